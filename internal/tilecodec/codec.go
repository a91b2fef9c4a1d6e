// Package tilecodec encodes tile buffers for storage and transport.
// Tiles travel as lossless PNG; decoded tiles are tightly packed RGBA8.
package tilecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"tilestream/pkg/types"
)

// ContentType is the MIME type of encoded tiles.
const ContentType = "image/png"

var encoder = png.Encoder{CompressionLevel: png.BestSpeed, BufferPool: &bufferPool{ch: make(chan *png.EncoderBuffer, 16)}}

// Encode returns the PNG encoding of buf.
func Encode(buf *types.TileBuffer) ([]byte, error) {
	if buf == nil || buf.Width <= 0 || buf.Height <= 0 {
		return nil, fmt.Errorf("encode tile: empty buffer")
	}
	if len(buf.Pix) != 4*buf.Width*buf.Height {
		return nil, fmt.Errorf("encode tile: %d bytes for %dx%d", len(buf.Pix), buf.Width, buf.Height)
	}
	img := &image.RGBA{Pix: buf.Pix, Stride: buf.Stride(), Rect: image.Rect(0, 0, buf.Width, buf.Height)}
	var out bytes.Buffer
	if err := encoder.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encode tile: %w", err)
	}
	return out.Bytes(), nil
}

// Decode parses an encoded tile into an RGBA8 buffer.
func Decode(data []byte) (*types.TileBuffer, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &types.TileBuffer{Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}, nil
}

// bufferPool lets the encoder reuse zlib state across tiles.
type bufferPool struct{ ch chan *png.EncoderBuffer }

func (p *bufferPool) Get() *png.EncoderBuffer {
	select {
	case b := <-p.ch:
		return b
	default:
		return nil
	}
}

func (p *bufferPool) Put(b *png.EncoderBuffer) {
	select {
	case p.ch <- b:
	default:
	}
}
