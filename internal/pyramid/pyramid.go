// Package pyramid converts a source image into a multi-resolution tile pyramid.
//
// Level 0 is the source at full resolution. Each following level halves the
// previous one (rounding up) using a configurable resampling kernel, and
// levels are appended while the halved smaller side stays above MinSize.
// Every level is cut into ChunkSize x ChunkSize tiles; the last row and
// column are clipped to the remaining pixels, never padded.
package pyramid

import (
	"context"
	"image"
	"image/draw"
	"runtime"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"tilestream/pkg/types"
)

// Defaults applied when corresponding Options fields are unset.
const (
	DefaultChunkSize = 512
	DefaultMinSize   = 256
	DefaultFilter    = FilterCatmullRom
)

// Resampling kernels accepted by Options.Filter.
const (
	FilterCatmullRom     = "catmullrom"
	FilterBiLinear       = "bilinear"
	FilterApproxBiLinear = "approx-bilinear"
	FilterNearest        = "nearest"
)

// Options controls pyramid generation.
type Options struct {
	ChunkSize int
	MinSize   int
	Filter    string
	// Workers bounds parallel tile extraction. Zero means GOMAXPROCS.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.Filter == "" {
		o.Filter = DefaultFilter
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// Tile is one output tile of Build.
type Tile struct {
	ID     types.TileID
	Buffer *types.TileBuffer
}

func scaler(name string) (xdraw.Scaler, error) {
	switch name {
	case FilterCatmullRom:
		return xdraw.CatmullRom, nil
	case FilterBiLinear:
		return xdraw.BiLinear, nil
	case FilterApproxBiLinear:
		return xdraw.ApproxBiLinear, nil
	case FilterNearest:
		return xdraw.NearestNeighbor, nil
	}
	return nil, errUnknownFilter(name)
}

// LevelSizes returns the dimensions of every level generated for a width x height
// source. It is the single source of truth for the halving rule.
func LevelSizes(width, height, minSize int) []image.Point {
	if width <= 0 || height <= 0 {
		return nil
	}
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	sizes := []image.Point{{X: width, Y: height}}
	w, h := width, height
	for {
		nw, nh := (w+1)/2, (h+1)/2
		if min(nw, nh) <= minSize || (nw == w && nh == h) {
			break
		}
		sizes = append(sizes, image.Point{X: nw, Y: nh})
		w, h = nw, nh
	}
	return sizes
}

// Describe computes the descriptor for a source of the given size without
// touching pixels.
func Describe(imageID string, width, height int, opts Options) types.ImageDescriptor {
	opts = opts.withDefaults()
	desc := types.ImageDescriptor{
		ImageID:    imageID,
		Width:      width,
		Height:     height,
		ChunkSize:  opts.ChunkSize,
		TileFormat: types.TileFormatPNG,
	}
	for l, sz := range LevelSizes(width, height, opts.MinSize) {
		li := types.NewLevelInfo(l, sz.X, sz.Y, opts.ChunkSize)
		desc.Levels = append(desc.Levels, li)
		desc.TotalChunks += li.ChunkCount
	}
	return desc
}

// Build generates the descriptor and every tile of the pyramid for src.
// Tiles are returned ordered by level, then row, then column.
func Build(ctx context.Context, imageID string, src image.Image, opts Options) (types.ImageDescriptor, []Tile, error) {
	opts = opts.withDefaults()
	if src == nil {
		return types.ImageDescriptor{}, nil, invalidImage("nil image")
	}
	b := src.Bounds()
	if b.Empty() {
		return types.ImageDescriptor{}, nil, invalidImage("zero area")
	}
	sc, err := scaler(opts.Filter)
	if err != nil {
		return types.ImageDescriptor{}, nil, err
	}

	desc := Describe(imageID, b.Dx(), b.Dy(), opts)
	tiles := make([]Tile, desc.TotalChunks)

	cur := toRGBA(src)
	base := 0
	for _, li := range desc.Levels {
		if li.Level > 0 {
			next := image.NewRGBA(image.Rect(0, 0, li.Width, li.Height))
			sc.Scale(next, next.Bounds(), cur, cur.Bounds(), xdraw.Src, nil)
			cur = next
		}
		if err := cutLevel(ctx, cur, imageID, li, opts, tiles[base:base+li.ChunkCount]); err != nil {
			return types.ImageDescriptor{}, nil, err
		}
		base += li.ChunkCount
	}
	return desc, tiles, nil
}

// cutLevel fills out (len == li.ChunkCount) with the level's tiles in row-major order.
func cutLevel(ctx context.Context, img *image.RGBA, imageID string, li types.LevelInfo, opts Options, out []Tile) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for y := 0; y < li.ChunksY; y++ {
		for x := 0; x < li.ChunksX; x++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				r := li.TileRect(x, y, opts.ChunkSize)
				out[y*li.ChunksX+x] = Tile{
					ID:     types.TileID{ImageID: imageID, Level: li.Level, X: x, Y: y},
					Buffer: extract(img, r),
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// extract copies r out of img into a tightly packed buffer.
func extract(img *image.RGBA, r image.Rectangle) *types.TileBuffer {
	w, h := r.Dx(), r.Dy()
	buf := &types.TileBuffer{Width: w, Height: h, Pix: make([]byte, 4*w*h)}
	for row := 0; row < h; row++ {
		off := img.PixOffset(r.Min.X, r.Min.Y+row)
		copy(buf.Pix[row*4*w:(row+1)*4*w], img.Pix[off:off+4*w])
	}
	return buf
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
