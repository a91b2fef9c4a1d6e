package gpu

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Software rasterizes draw calls into an RGBA canvas with x/image/draw. It
// stands in for a real graphics API in the headless viewer.
type Software struct {
	canvas *image.RGBA
	bg     color.RGBA
	next   TextureID
	texs   map[TextureID]*image.RGBA
	kernel xdraw.Transformer
}

// NewSoftware returns a backend drawing into a w x h canvas.
func NewSoftware(w, h int) *Software {
	return &Software{
		canvas: image.NewRGBA(image.Rect(0, 0, w, h)),
		bg:     color.RGBA{A: 0xff},
		texs:   make(map[TextureID]*image.RGBA),
		kernel: xdraw.ApproxBiLinear,
	}
}

func (s *Software) CreateTexture(w, h int) (TextureID, error) {
	if w <= 0 || h <= 0 {
		return InvalidTexture, fmt.Errorf("gpu: invalid texture size %dx%d", w, h)
	}
	s.next++
	s.texs[s.next] = image.NewRGBA(image.Rect(0, 0, w, h))
	return s.next, nil
}

func (s *Software) DestroyTexture(tex TextureID) { delete(s.texs, tex) }

func (s *Software) Upload(tex TextureID, x, y, w, h int, pix []byte) error {
	if err := validUpload(w, h, pix); err != nil {
		return err
	}
	img, ok := s.texs[tex]
	if !ok {
		return ErrUnknownTexture
	}
	if !image.Rect(x, y, x+w, y+h).In(img.Bounds()) {
		return fmt.Errorf("gpu: upload region outside texture")
	}
	for row := 0; row < h; row++ {
		off := img.PixOffset(x, y+row)
		copy(img.Pix[off:off+4*w], pix[row*4*w:(row+1)*4*w])
	}
	return nil
}

func (s *Software) DrawQuad(tex TextureID, m f64.Aff3, opacity float64) {
	img, ok := s.texs[tex]
	if !ok || opacity <= 0 {
		return
	}
	b := img.Bounds()
	// unit square -> screen composed with texel -> unit square
	sx, sy := 1/float64(b.Dx()), 1/float64(b.Dy())
	s2d := f64.Aff3{m[0] * sx, m[1] * sy, m[2], m[3] * sx, m[4] * sy, m[5]}
	var opts *xdraw.Options
	if opacity < 1 {
		opts = &xdraw.Options{SrcMask: image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})}
	}
	s.kernel.Transform(s.canvas, s2d, img, b, xdraw.Over, opts)
}

// BeginFrame clears the canvas.
func (s *Software) BeginFrame() {
	xdraw.Draw(s.canvas, s.canvas.Bounds(), image.NewUniform(s.bg), image.Point{}, xdraw.Src)
}

func (s *Software) EndFrame() {}

// Canvas returns the current frame. The image is reused by the next frame.
func (s *Software) Canvas() *image.RGBA { return s.canvas }

// Textures returns the number of live textures.
func (s *Software) Textures() int { return len(s.texs) }

// WritePNG encodes the current frame.
func (s *Software) WritePNG(w io.Writer) error {
	return png.Encode(w, s.canvas)
}
