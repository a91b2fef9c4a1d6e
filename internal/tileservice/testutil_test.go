package tileservice

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"tilestream/internal/pyramid"
)

// writePNG writes a w x h gradient image into dir and returns its path.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return p
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(ServiceConfig{
		Pyramid: pyramid.Options{ChunkSize: 64, MinSize: 32, Filter: pyramid.FilterNearest, Workers: 2},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(p string, b []byte) error { return os.WriteFile(p, b, 0o644) }
