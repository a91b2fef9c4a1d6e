// Package gpu is the boundary to the graphics API. The render scheduler and
// the tile cache only use the four primitives of Backend; Recorder and
// Software are the two in-tree implementations.
package gpu

import (
	"errors"

	"golang.org/x/image/math/f64"
)

// TextureID is an opaque handle to a GPU texture. Zero is never a valid handle.
type TextureID uint64

// InvalidTexture is the zero handle.
const InvalidTexture TextureID = 0

// ErrUnknownTexture is returned when an operation names a texture that was
// never created or has been destroyed.
var ErrUnknownTexture = errors.New("gpu: unknown texture")

// Backend is the graphics API as seen by the engine. Every method must be
// called from the goroutine that owns the graphics context.
type Backend interface {
	CreateTexture(w, h int) (TextureID, error)
	DestroyTexture(tex TextureID)
	// Upload copies a tightly packed RGBA8 region into tex at (x, y).
	Upload(tex TextureID, x, y, w, h int, pix []byte) error
	// DrawQuad draws tex mapped onto the unit square transformed by m
	// (unit space to screen pixels) at the given opacity in [0, 1].
	DrawQuad(tex TextureID, m f64.Aff3, opacity float64)
}

// Framer is implemented by backends that want frame boundaries.
type Framer interface {
	BeginFrame()
	EndFrame()
}

// QuadTransform maps the unit square onto the screen rectangle at (x, y) of size w x h.
func QuadTransform(x, y, w, h float64) f64.Aff3 {
	return f64.Aff3{w, 0, x, 0, h, y}
}

func validUpload(w, h int, pix []byte) error {
	if w <= 0 || h <= 0 {
		return errors.New("gpu: empty upload region")
	}
	if len(pix) < 4*w*h {
		return errors.New("gpu: short pixel buffer")
	}
	return nil
}
