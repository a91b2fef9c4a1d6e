package types

import (
	"image"
	"math"
)

// TileFormatPNG is the only tile encoding produced by the ingestion pipeline.
const TileFormatPNG = "png"

// ImageDescriptor describes the pyramid produced for one source image.
// It is immutable once committed to a tile store.
type ImageDescriptor struct {
	// Stable identifier for the image.
	// example: slide-0042
	ImageID string `json:"image_id" example:"slide-0042"`
	// Full-resolution width in pixels (level 0).
	// example: 4096
	Width int `json:"width" example:"4096"`
	// Full-resolution height in pixels (level 0).
	// example: 4096
	Height int `json:"height" example:"4096"`
	// Edge length of a square tile in pixels. Edge tiles may be smaller.
	// example: 512
	ChunkSize int `json:"chunk_size" example:"512"`
	// Number of tiles across all levels.
	// example: 85
	TotalChunks int `json:"total_chunks" example:"85"`
	// Encoding of tile payloads.
	// example: png
	TileFormat string `json:"tile_format" example:"png"`
	// Resolution levels, finest first. Level values are contiguous from 0.
	Levels []LevelInfo `json:"levels"`
}

// LevelInfo describes one resolution step of the pyramid.
type LevelInfo struct {
	// example: 1
	Level int `json:"level" example:"1"`
	// example: 2048
	Width int `json:"width" example:"2048"`
	// example: 2048
	Height int `json:"height" example:"2048"`
	// Scale relative to level 0, always 2^-level.
	// example: 0.5
	Scale float64 `json:"scale" example:"0.5"`
	// example: 4
	ChunksX int `json:"chunks_x" example:"4"`
	// example: 4
	ChunksY int `json:"chunks_y" example:"4"`
	// example: 16
	ChunkCount int `json:"chunk_count" example:"16"`
}

// NewLevelInfo derives the tile grid of a level with the given dimensions.
func NewLevelInfo(level, width, height, chunkSize int) LevelInfo {
	cx := ceilDiv(width, chunkSize)
	cy := ceilDiv(height, chunkSize)
	return LevelInfo{
		Level:      level,
		Width:      width,
		Height:     height,
		Scale:      math.Ldexp(1, -level),
		ChunksX:    cx,
		ChunksY:    cy,
		ChunkCount: cx * cy,
	}
}

func ceilDiv(n, d int) int {
	if d <= 0 || n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// Level returns the info for level l.
func (d ImageDescriptor) Level(l int) (LevelInfo, bool) {
	if l < 0 || l >= len(d.Levels) {
		return LevelInfo{}, false
	}
	return d.Levels[l], true
}

// LevelCount returns the number of levels in the pyramid.
func (d ImageDescriptor) LevelCount() int { return len(d.Levels) }

// Contains reports whether id addresses a tile of this pyramid.
func (d ImageDescriptor) Contains(id TileID) bool {
	if id.ImageID != d.ImageID {
		return false
	}
	li, ok := d.Level(id.Level)
	if !ok {
		return false
	}
	return id.X >= 0 && id.X < li.ChunksX && id.Y >= 0 && id.Y < li.ChunksY
}

// TileRect returns the pixel rectangle covered by tile (x, y) within the level,
// clipped to the level bounds.
func (li LevelInfo) TileRect(x, y, chunkSize int) image.Rectangle {
	r := image.Rect(x*chunkSize, y*chunkSize, (x+1)*chunkSize, (y+1)*chunkSize)
	return r.Intersect(image.Rect(0, 0, li.Width, li.Height))
}

// TileRect returns the level-space pixel rectangle of id.
func (d ImageDescriptor) TileRect(id TileID) image.Rectangle {
	li, ok := d.Level(id.Level)
	if !ok {
		return image.Rectangle{}
	}
	return li.TileRect(id.X, id.Y, d.ChunkSize)
}
