// Package cull computes the minimal set of tiles covering a viewport.
package cull

import (
	"math"

	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

// Range is an inclusive block of tile coordinates within one level.
type Range struct {
	X0, Y0, X1, Y1 int
}

// Empty reports whether r holds no tiles.
func (r Range) Empty() bool { return r.X1 < r.X0 || r.Y1 < r.Y0 }

// Len is the number of tiles in r.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return (r.X1 - r.X0 + 1) * (r.Y1 - r.Y0 + 1)
}

// Expand grows r by n tiles on every side, clamped to the level grid.
func (r Range) Expand(n int, li types.LevelInfo) Range {
	if r.Empty() {
		return r
	}
	return Range{
		X0: max(r.X0-n, 0), Y0: max(r.Y0-n, 0),
		X1: min(r.X1+n, li.ChunksX-1), Y1: min(r.Y1+n, li.ChunksY-1),
	}
}

// Tiles lists r row-major.
func (r Range) Tiles(imageID string, level int) []types.TileID {
	if r.Empty() {
		return nil
	}
	out := make([]types.TileID, 0, r.Len())
	for y := r.Y0; y <= r.Y1; y++ {
		for x := r.X0; x <= r.X1; x++ {
			out = append(out, types.TileID{ImageID: imageID, Level: level, X: x, Y: y})
		}
	}
	return out
}

// TileRange converts the viewport to li's pixel space, clips it to the level
// bounds and returns the covering tile block. ok is false when nothing of the
// level is visible.
func TileRange(vp viewport.State, chunkSize int, li types.LevelInfo) (r Range, ok bool) {
	if vp.Degenerate() || chunkSize <= 0 || li.ChunksX == 0 || li.ChunksY == 0 {
		return Range{X1: -1, Y1: -1}, false
	}
	x0, y0, x1, y1 := vp.ImageRect()
	x0, y0, x1, y1 = x0*li.Scale, y0*li.Scale, x1*li.Scale, y1*li.Scale
	x0, x1 = math.Max(x0, 0), math.Min(x1, float64(li.Width))
	y0, y1 = math.Max(y0, 0), math.Min(y1, float64(li.Height))
	if !(x1 > x0) || !(y1 > y0) {
		return Range{X1: -1, Y1: -1}, false
	}
	cs := float64(chunkSize)
	r = Range{
		X0: int(math.Floor(x0 / cs)),
		Y0: int(math.Floor(y0 / cs)),
		X1: int(math.Ceil(x1/cs)) - 1,
		Y1: int(math.Ceil(y1/cs)) - 1,
	}
	r.X0, r.X1 = max(r.X0, 0), min(r.X1, li.ChunksX-1)
	r.Y0, r.Y1 = max(r.Y0, 0), min(r.Y1, li.ChunksY-1)
	return r, !r.Empty()
}

// VisibleTiles returns the tiles of li overlapping vp, row-major. The result is
// minimal: every returned tile shares area with the viewport.
func VisibleTiles(vp viewport.State, imageID string, chunkSize int, li types.LevelInfo) []types.TileID {
	r, ok := TileRange(vp, chunkSize, li)
	if !ok {
		return nil
	}
	return r.Tiles(imageID, li.Level)
}
