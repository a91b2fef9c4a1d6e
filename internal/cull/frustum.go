package cull

import (
	"math"

	"golang.org/x/image/math/f64"

	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

// Plane is the half-space dot(Normal, p) + D >= 0.
type Plane struct {
	Normal f64.Vec3
	D      float64
}

// Distance is the signed distance of p from the plane, scaled by |Normal|.
func (pl Plane) Distance(p f64.Vec3) float64 {
	return pl.Normal[0]*p[0] + pl.Normal[1]*p[1] + pl.Normal[2]*p[2] + pl.D
}

// AABB is an axis-aligned box.
type AABB struct {
	Min, Max f64.Vec3
}

// Frustum is six inward-facing planes: left, right, top, bottom, near, far.
type Frustum [6]Plane

// IsVisible reports whether b is at least partly inside fr. For each plane the
// box corner furthest along the normal (the p-vertex) is tested; the box is
// culled as soon as one p-vertex lies behind its plane.
func IsVisible(b AABB, fr Frustum) bool {
	for _, pl := range fr {
		var p f64.Vec3
		for i := range 3 {
			if pl.Normal[i] >= 0 {
				p[i] = b.Max[i]
			} else {
				p[i] = b.Min[i]
			}
		}
		if pl.Distance(p) < 0 {
			return false
		}
	}
	return true
}

// TileBounds returns the box of id in level-0 image coordinates on the z=0 plane.
func TileBounds(id types.TileID, chunkSize int, li types.LevelInfo) AABB {
	r := li.TileRect(id.X, id.Y, chunkSize)
	inv := 1 / li.Scale
	return AABB{
		Min: f64.Vec3{float64(r.Min.X) * inv, float64(r.Min.Y) * inv, 0},
		Max: f64.Vec3{float64(r.Max.X) * inv, float64(r.Max.Y) * inv, 0},
	}
}

// OrthoFrustum builds the frustum of the axis-aligned camera described by vp,
// in level-0 image coordinates.
func OrthoFrustum(vp viewport.State) Frustum {
	x0, y0, x1, y1 := vp.ImageRect()
	return Frustum{
		{Normal: f64.Vec3{1, 0, 0}, D: -x0},
		{Normal: f64.Vec3{-1, 0, 0}, D: x1},
		{Normal: f64.Vec3{0, 1, 0}, D: -y0},
		{Normal: f64.Vec3{0, -1, 0}, D: y1},
		{Normal: f64.Vec3{0, 0, 1}, D: 1},
		{Normal: f64.Vec3{0, 0, -1}, D: 1},
	}
}

// RotatedFrustum is the frustum of vp's rectangle rotated by angle radians
// about its centre.
func RotatedFrustum(vp viewport.State, angle float64) Frustum {
	cx, cy := vp.Center()
	x0, y0, x1, y1 := vp.ImageRect()
	hw, hh := (x1-x0)/2, (y1-y0)/2
	sin, cos := math.Sincos(angle)
	// unit axes of the rotated rectangle
	ux, uy := f64.Vec3{cos, sin, 0}, f64.Vec3{-sin, cos, 0}
	side := func(n f64.Vec3, half float64) Plane {
		// plane through centre + half*n facing inward
		return Plane{Normal: f64.Vec3{-n[0], -n[1], 0}, D: n[0]*cx + n[1]*cy + half}
	}
	neg := func(v f64.Vec3) f64.Vec3 { return f64.Vec3{-v[0], -v[1], 0} }
	return Frustum{
		side(neg(ux), hw),
		side(ux, hw),
		side(neg(uy), hh),
		side(uy, hh),
		{Normal: f64.Vec3{0, 0, 1}, D: 1},
		{Normal: f64.Vec3{0, 0, -1}, D: 1},
	}
}

// VisibleTilesInFrustum tests every tile of li against fr, row-major. It is the
// general path for camera transforms beyond axis-aligned pan and zoom.
func VisibleTilesInFrustum(fr Frustum, imageID string, chunkSize int, li types.LevelInfo) []types.TileID {
	var out []types.TileID
	for y := 0; y < li.ChunksY; y++ {
		for x := 0; x < li.ChunksX; x++ {
			id := types.TileID{ImageID: imageID, Level: li.Level, X: x, Y: y}
			if IsVisible(TileBounds(id, chunkSize, li), fr) {
				out = append(out, id)
			}
		}
	}
	return out
}
