package e2e

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tilestream/internal/gpu"
	"tilestream/internal/lod"
	"tilestream/internal/pyramid"
	"tilestream/internal/render"
	"tilestream/internal/tilecache"
	"tilestream/internal/tileclient"
	"tilestream/internal/tileservice"
	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

// writeSourceDir creates a directory of gradient PNGs named after sizes.
func writeSourceDir(t *testing.T, imgs map[string]image.Point) string {
	t.Helper()
	dir := t.TempDir()
	for name, sz := range imgs {
		img := image.NewRGBA(image.Rect(0, 0, sz.X, sz.Y))
		for y := 0; y < sz.Y; y++ {
			for x := 0; x < sz.X; x++ {
				img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		f.Close()
	}
	return dir
}

func newService(t *testing.T) *tileservice.Service {
	t.Helper()
	svc, err := tileservice.New(tileservice.ServiceConfig{
		Pyramid: pyramid.Options{ChunkSize: 64, MinSize: 32, Filter: "bilinear"},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func newServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// viewer is the client engine wired against a server URL with a recording backend.
type viewer struct {
	rec   *gpu.Recorder
	cache *tilecache.Cache
	sched *render.Scheduler
}

func newViewer(t *testing.T, url string, desc types.ImageDescriptor, retries int) *viewer {
	t.Helper()
	client := tileclient.New(url, tileclient.Options{Retries: retries, InitialInterval: time.Millisecond})
	rec := gpu.NewRecorder()
	cache := tilecache.New(client, rec, tilecache.Config{PrefetchRate: -1, RetryInitial: 5 * time.Millisecond})
	t.Cleanup(cache.Close)
	sched := render.New(desc, cache, rec, render.Config{
		Selector:  lod.Selector{MaxMagnification: 2},
		CrossFade: 20 * time.Millisecond,
	})
	return &viewer{rec: rec, cache: cache, sched: sched}
}

// untilComplete renders frames of vp until one is fully detailed.
func (v *viewer) untilComplete(t *testing.T, vp viewport.State) render.FrameStats {
	t.Helper()
	now := time.Now()
	var st render.FrameStats
	for i := 0; i < 2000; i++ {
		now = now.Add(16 * time.Millisecond)
		st = v.sched.Frame(vp, now)
		if st.Complete() && st.Visible > 0 {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("viewer never converged: %+v", st)
	return st
}

func mustDescriptor(t *testing.T, url, id string) types.ImageDescriptor {
	t.Helper()
	d, err := tileclient.New(url, tileclient.Options{}).Descriptor(context.Background(), id)
	if err != nil {
		t.Fatalf("descriptor %s: %v", id, err)
	}
	return d
}
