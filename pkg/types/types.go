package types

import "strconv"

// TileID addresses one tile. It is a comparable value and is used directly as
// a map key on both the server and the viewer.
type TileID struct {
	ImageID string `json:"image_id"`
	Level   int    `json:"level"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

func (id TileID) String() string {
	return id.ImageID + "/" + strconv.Itoa(id.Level) + "/" + strconv.Itoa(id.X) + "/" + strconv.Itoa(id.Y)
}

// Parent returns the tile at level+d that covers id.
func (id TileID) Parent(d int) TileID {
	if d <= 0 {
		return id
	}
	return TileID{ImageID: id.ImageID, Level: id.Level + d, X: id.X >> d, Y: id.Y >> d}
}

// TileBuffer is the decoded pixel payload of a tile: tightly packed RGBA8 rows.
type TileBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// Stride is the number of bytes per row.
func (b *TileBuffer) Stride() int { return 4 * b.Width }

// SizeBytes is the memory footprint of the pixel data.
func (b *TileBuffer) SizeBytes() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Pix))
}
