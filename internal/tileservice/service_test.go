package tileservice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tilestream/internal/tilecodec"
	"tilestream/pkg/types"
)

func TestIngest_BuildsReadablePyramid(t *testing.T) {
	s := newTestService(t)
	p := writePNG(t, t.TempDir(), "slide.png", 200, 100)
	d, err := s.Ingest(context.Background(), types.IngestRequest{Path: p})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if d.ImageID != "slide" || d.Width != 200 || d.Height != 100 {
		t.Fatalf("descriptor: %+v", d)
	}
	if len(d.Levels) != 2 || d.TotalChunks != 10 {
		t.Fatalf("levels=%d total=%d", len(d.Levels), d.TotalChunks)
	}
	for _, li := range d.Levels {
		for y := 0; y < li.ChunksY; y++ {
			for x := 0; x < li.ChunksX; x++ {
				data, err := s.TileBytes(context.Background(), types.TileID{ImageID: "slide", Level: li.Level, X: x, Y: y})
				if err != nil {
					t.Fatalf("tile %d/%d/%d: %v", li.Level, x, y, err)
				}
				if _, err := tilecodec.Decode(data); err != nil {
					t.Fatalf("decode: %v", err)
				}
			}
		}
	}
	got, err := s.Descriptor(context.Background(), "slide")
	if err != nil || got.TotalChunks != d.TotalChunks {
		t.Fatalf("Descriptor: %+v %v", got, err)
	}
}

func TestIngest_Errors(t *testing.T) {
	s := newTestService(t)
	dir := t.TempDir()
	ctx := context.Background()
	if _, err := s.Ingest(ctx, types.IngestRequest{}); !IsBadRequest(err) {
		t.Fatalf("empty path: %v", err)
	}
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: dir + "/missing.png"}); !IsBadRequest(err) {
		t.Fatalf("missing file: %v", err)
	}
	p := writePNG(t, dir, "ok.png", 40, 40)
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: p, ImageID: "../up"}); !IsBadRequest(err) {
		t.Fatalf("unsafe id: %v", err)
	}
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: p}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: p}); !IsConflict(err) {
		t.Fatalf("duplicate: %v", err)
	}
	bad := dir + "/bad.png"
	if err := writeFile(bad, []byte("not an image")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := s.Ingest(ctx, types.IngestRequest{Path: bad})
	if !IsInvalidImage(err) {
		t.Fatalf("invalid image: %v", err)
	}
	st := s.Status()
	var sawErr bool
	for _, r := range st.Images {
		if r.ImageID == "bad" && r.State == stateError && r.Error != "" {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatalf("status missing error record: %+v", st.Images)
	}
}

func TestTileBytes_NotFound(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.TileBytes(ctx, types.TileID{ImageID: "nope"}); !IsNotFound(err) {
		t.Fatalf("unknown image: %v", err)
	}
	p := writePNG(t, t.TempDir(), "a.png", 64, 64)
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: p}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	for _, id := range []types.TileID{
		{ImageID: "a", Level: 5},
		{ImageID: "a", Level: 0, X: 1},
		{ImageID: "a", Level: 0, Y: -1},
	} {
		if _, err := s.TileBytes(ctx, id); !IsNotFound(err) {
			t.Fatalf("%s: %v", id, err)
		}
	}
}

func TestTileBytes_HotCacheHit(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p := writePNG(t, t.TempDir(), "h.png", 64, 64)
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: p}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	id := types.TileID{ImageID: "h"}
	first, err := s.TileBytes(ctx, id)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	s.hot.Wait()
	second, err := s.TileBytes(ctx, id)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("payload mismatch")
	}
	if s.hotHits.Load() == 0 {
		t.Fatalf("expected a hot cache hit")
	}
	if st := s.Status(); st.TilesServed != 2 || st.CacheHitRatio <= 0 {
		t.Fatalf("status: %+v", st)
	}
}

func TestTileBytes_ConcurrentReaders(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p := writePNG(t, t.TempDir(), "c.png", 128, 128)
	if _, err := s.Ingest(ctx, types.IngestRequest{Path: p}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.TileBytes(ctx, types.TileID{ImageID: "c", X: i % 2, Y: (i / 2) % 2})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("read: %v", err)
	}
}

func TestIngestDir_SkipsExistingAndJoinsErrors(t *testing.T) {
	s := newTestService(t)
	dir := t.TempDir()
	writePNG(t, dir, "one.png", 50, 50)
	writePNG(t, dir, "two.png", 60, 40)
	if err := writeFile(dir+"/broken.png", []byte("junk")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.IngestDir(context.Background(), dir)
	if err == nil || !IsInvalidImage(err) {
		t.Fatalf("expected joined invalid image error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ingested %d", len(got))
	}
	again, err := s.IngestDir(context.Background(), dir)
	if len(again) != 0 {
		t.Fatalf("re-ingested %d", len(again))
	}
	if err == nil {
		t.Fatalf("broken file should still fail")
	}
	var unwrap interface{ Unwrap() []error }
	if !errors.As(err, &unwrap) {
		t.Fatalf("expected joined error: %T", err)
	}
}

func TestReady(t *testing.T) {
	s := newTestService(t)
	if !s.Ready() {
		t.Fatalf("memory store should be ready")
	}
}
