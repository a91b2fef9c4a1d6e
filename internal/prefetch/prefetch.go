// Package prefetch predicts which tiles the viewport is about to need from its
// recent motion.
package prefetch

import (
	"math"
	"sort"
	"time"

	"tilestream/internal/cull"
	"tilestream/internal/lod"
	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

// Candidate is a tile worth fetching ahead of time. Higher Priority first.
type Candidate struct {
	ID       types.TileID
	Priority float64
}

// Prefetcher extrapolates viewport motion linearly. The zero value is usable
// and takes the defaults below.
type Prefetcher struct {
	// Window is the number of most recent samples used for the velocity.
	Window int
	// Horizon is how far ahead the viewport is extrapolated.
	Horizon time.Duration
	// Radius grows the predicted covering set by this many tiles per side.
	// Negative means no ring.
	Radius int
	// MaxCandidates caps the result.
	MaxCandidates int
}

const (
	DefaultWindow        = 4
	DefaultHorizon       = 300 * time.Millisecond
	DefaultRadius        = 1
	DefaultMaxCandidates = 32

	// otherLevelWeight scales priorities of tiles on the level a zoom is heading to.
	otherLevelWeight = 0.5
)

func (p Prefetcher) withDefaults() Prefetcher {
	if p.Window < 2 {
		p.Window = DefaultWindow
	}
	if p.Horizon <= 0 {
		p.Horizon = DefaultHorizon
	}
	if p.Radius < 0 {
		p.Radius = 0
	} else if p.Radius == 0 {
		p.Radius = DefaultRadius
	}
	if p.MaxCandidates <= 0 {
		p.MaxCandidates = DefaultMaxCandidates
	}
	return p
}

// Predict returns tiles around where the viewport will be after Horizon,
// highest priority first. level is the level currently drawn; it may differ
// from the zoom-selected one by the frame-rate bias, and that offset is kept
// for the predicted level. With fewer than two samples the viewport is
// treated as stationary.
func (p Prefetcher) Predict(h *viewport.History, level int, desc types.ImageDescriptor) []Candidate {
	p = p.withDefaults()
	if h == nil || desc.LevelCount() == 0 {
		return nil
	}
	last, ok := h.Latest()
	if !ok || last.State.Degenerate() {
		return nil
	}
	future := Extrapolate(h.Last(p.Window), p.Horizon)

	out := p.cover(future, level, desc, 1)
	bias := level - lod.SelectLevel(last.State.Zoom, desc.LevelCount())
	next := lod.SelectLevel(future.Zoom, desc.LevelCount()) + bias
	next = min(max(next, 0), desc.LevelCount()-1)
	if next != level {
		out = append(out, p.cover(future, next, desc, otherLevelWeight)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if len(out) > p.MaxCandidates {
		out = out[:p.MaxCandidates]
	}
	return out
}

// cover scores the tiles of one level around the predicted viewport by their
// distance, in tiles, from its centre.
func (p Prefetcher) cover(vp viewport.State, level int, desc types.ImageDescriptor, weight float64) []Candidate {
	li, ok := desc.Level(level)
	if !ok {
		return nil
	}
	r, ok := cull.TileRange(vp, desc.ChunkSize, li)
	if !ok {
		return nil
	}
	cx, cy := vp.Center()
	cs := float64(desc.ChunkSize)
	cx, cy = cx*li.Scale/cs, cy*li.Scale/cs
	tiles := r.Expand(p.Radius, li).Tiles(desc.ImageID, level)
	out := make([]Candidate, 0, len(tiles))
	for _, id := range tiles {
		d := math.Hypot(float64(id.X)+0.5-cx, float64(id.Y)+0.5-cy)
		out = append(out, Candidate{ID: id, Priority: weight / (1 + d)})
	}
	return out
}

// Extrapolate projects the newest sample forward by horizon using the average
// pan and zoom velocity between the first and last samples. Zoom is
// extrapolated geometrically so it never crosses zero, and the covered
// rectangle is resized to keep the on-screen size.
func Extrapolate(samples []viewport.MotionSample, horizon time.Duration) viewport.State {
	if len(samples) == 0 {
		return viewport.State{}
	}
	last := samples[len(samples)-1]
	if len(samples) < 2 {
		return last.State
	}
	first := samples[0]
	dt := last.At.Sub(first.At).Seconds()
	if dt <= 0 {
		return last.State
	}
	k := horizon.Seconds() / dt
	s := last.State
	s.OriginX += (last.State.OriginX - first.State.OriginX) * k
	s.OriginY += (last.State.OriginY - first.State.OriginY) * k
	if first.State.Zoom > 0 && last.State.Zoom > 0 {
		s.Zoom = last.State.Zoom * math.Pow(last.State.Zoom/first.State.Zoom, k)
		// same screen size at the new zoom
		s.Width *= last.State.Zoom / s.Zoom
		s.Height *= last.State.Zoom / s.Zoom
	}
	return s
}
