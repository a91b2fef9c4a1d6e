// Package viewport models what the viewer is looking at. A State is a plain
// value passed into level selection, culling and prediction every frame.
package viewport

import "time"

// State is the visible region in level-0 image pixels: the rectangle from
// (OriginX, OriginY) spanning Width x Height. Zoom is screen pixels per
// level-0 image pixel, so the on-screen size is Width*Zoom x Height*Zoom.
type State struct {
	OriginX float64
	OriginY float64
	Width   float64
	Height  float64
	Zoom    float64
}

// FromScreen returns the state showing a screenW x screenH pixel view at zoom
// whose top-left corner is the image point (originX, originY).
func FromScreen(originX, originY float64, screenW, screenH int, zoom float64) State {
	s := State{OriginX: originX, OriginY: originY, Zoom: zoom}
	if zoom > 0 {
		s.Width = float64(screenW) / zoom
		s.Height = float64(screenH) / zoom
	}
	return s
}

// Degenerate reports whether s covers no area.
func (s State) Degenerate() bool {
	return !(s.Width > 0) || !(s.Height > 0) || !(s.Zoom > 0)
}

// ImageRect returns the covered rectangle in level-0 image coordinates.
func (s State) ImageRect() (x0, y0, x1, y1 float64) {
	if s.Degenerate() {
		return s.OriginX, s.OriginY, s.OriginX, s.OriginY
	}
	return s.OriginX, s.OriginY, s.OriginX + s.Width, s.OriginY + s.Height
}

// ScreenSize is the on-screen size of the covered rectangle in pixels.
func (s State) ScreenSize() (w, h float64) {
	return s.Width * s.Zoom, s.Height * s.Zoom
}

// Center returns the centre of the covered rectangle in level-0 image coordinates.
func (s State) Center() (x, y float64) {
	x0, y0, x1, y1 := s.ImageRect()
	return (x0 + x1) / 2, (y0 + y1) / 2
}

// Pan moves the origin by (dx, dy) screen pixels.
func (s State) Pan(dx, dy float64) State {
	if s.Zoom > 0 {
		s.OriginX += dx / s.Zoom
		s.OriginY += dy / s.Zoom
	}
	return s
}

// ZoomAt multiplies Zoom by factor keeping the image point under screen
// position (sx, sy) fixed. The screen size is unchanged, so the covered
// rectangle shrinks by factor.
func (s State) ZoomAt(factor, sx, sy float64) State {
	if !(factor > 0) || !(s.Zoom > 0) {
		return s
	}
	ix := s.OriginX + sx/s.Zoom
	iy := s.OriginY + sy/s.Zoom
	s.Zoom *= factor
	s.Width /= factor
	s.Height /= factor
	s.OriginX = ix - sx/s.Zoom
	s.OriginY = iy - sy/s.Zoom
	return s
}

// ToScreen maps a level-0 image point to screen pixels.
func (s State) ToScreen(ix, iy float64) (sx, sy float64) {
	return (ix - s.OriginX) * s.Zoom, (iy - s.OriginY) * s.Zoom
}

// MotionSample is a viewport snapshot and the time it was taken.
type MotionSample struct {
	State State
	At    time.Time
}

// History is a fixed-capacity ring of motion samples; pushing onto a full
// history discards the oldest sample. It is not safe for concurrent use.
type History struct {
	buf   []MotionSample
	start int
	n     int
}

// NewHistory returns a history holding at most capacity samples (minimum 2).
func NewHistory(capacity int) *History {
	return &History{buf: make([]MotionSample, max(capacity, 2))}
}

// Push appends a sample.
func (h *History) Push(s State, at time.Time) {
	i := (h.start + h.n) % len(h.buf)
	h.buf[i] = MotionSample{State: s, At: at}
	if h.n < len(h.buf) {
		h.n++
		return
	}
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int { return h.n }
func (h *History) Cap() int { return len(h.buf) }

// Last returns up to k most recent samples, oldest first.
func (h *History) Last(k int) []MotionSample {
	k = min(k, h.n)
	if k <= 0 {
		return nil
	}
	out := make([]MotionSample, k)
	for i := range k {
		out[i] = h.buf[(h.start+h.n-k+i)%len(h.buf)]
	}
	return out
}

// Samples returns every retained sample, oldest first.
func (h *History) Samples() []MotionSample { return h.Last(h.n) }

// Latest returns the most recent sample.
func (h *History) Latest() (MotionSample, bool) {
	if h.n == 0 {
		return MotionSample{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Reset drops every sample.
func (h *History) Reset() {
	h.start, h.n = 0, 0
}
