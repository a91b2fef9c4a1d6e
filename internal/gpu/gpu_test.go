package gpu

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, r, g, b byte) []byte {
	pix := make([]byte, 4*w*h)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 0xff
	}
	return pix
}

func TestRecorder_Lifecycle(t *testing.T) {
	r := NewRecorder()
	tex, err := r.CreateTexture(4, 4)
	require.NoError(t, err)
	require.NoError(t, r.Upload(tex, 0, 0, 4, 4, solid(4, 4, 1, 2, 3)))
	assert.Error(t, r.Upload(tex, 2, 2, 4, 4, solid(4, 4, 1, 2, 3)), "outside texture")
	assert.Error(t, r.Upload(tex, 0, 0, 4, 4, nil), "short buffer")

	r.BeginFrame()
	r.DrawQuad(tex, QuadTransform(10, 20, 30, 40), 0.5)
	draws := r.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, 0.5, draws[0].Opacity)
	assert.Equal(t, 30.0, draws[0].M[0])
	r.BeginFrame()
	assert.Empty(t, r.Draws())

	r.DestroyTexture(tex)
	r.DestroyTexture(tex)
	assert.Equal(t, 0, r.Live())
	created, destroyed, uploads := r.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{created, destroyed, uploads})
	assert.Len(t, r.Violations(), 1)
	assert.ErrorIs(t, r.Upload(tex, 0, 0, 1, 1, solid(1, 1, 0, 0, 0)), ErrUnknownTexture)
}

func TestSoftware_DrawsScaledQuad(t *testing.T) {
	s := NewSoftware(8, 8)
	tex, err := s.CreateTexture(2, 2)
	require.NoError(t, err)
	require.NoError(t, s.Upload(tex, 0, 0, 2, 2, solid(2, 2, 0xff, 0, 0)))
	s.BeginFrame()
	s.DrawQuad(tex, QuadTransform(0, 0, 4, 4), 1)
	c := s.Canvas()
	assert.Equal(t, uint8(0xff), c.RGBAAt(1, 1).R, "inside quad")
	assert.Equal(t, uint8(0), c.RGBAAt(6, 6).R, "outside quad")

	s.BeginFrame()
	s.DrawQuad(tex, QuadTransform(0, 0, 8, 8), 0.5)
	px := c.RGBAAt(4, 4)
	assert.InDelta(t, 128, int(px.R), 2, "half opacity over black")

	var buf bytes.Buffer
	require.NoError(t, s.WritePNG(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	s.DestroyTexture(tex)
	assert.Equal(t, 0, s.Textures())
	assert.ErrorIs(t, s.Upload(tex, 0, 0, 1, 1, solid(1, 1, 0, 0, 0)), ErrUnknownTexture)
}
