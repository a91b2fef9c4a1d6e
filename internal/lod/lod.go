// Package lod picks the pyramid level to draw for a zoom factor.
package lod

import (
	"math"
	"time"
)

// SelectLevel maps zoom (screen pixels per level-0 pixel) to a level:
// clamp(floor(-log2(zoom)), 0, levelCount-1). Zoom 1 is level 0 and every
// halving of zoom moves one level coarser. A non-positive or NaN zoom selects
// the coarsest level.
func SelectLevel(zoom float64, levelCount int) int {
	if levelCount <= 0 {
		return 0
	}
	if !(zoom > 0) {
		return levelCount - 1
	}
	if math.IsInf(zoom, 1) {
		return 0
	}
	l := int(math.Floor(-math.Log2(zoom)))
	return clamp(l, 0, levelCount-1)
}

// Magnification is how many screen pixels one pixel of level covers at zoom.
func Magnification(zoom float64, level int) float64 {
	return math.Ldexp(zoom, level)
}

// Selector layers a frame-rate bias and a magnification ceiling on SelectLevel.
type Selector struct {
	// MaxMagnification bounds how far a biased level may be stretched.
	// Values below 1 disable the ceiling.
	MaxMagnification float64
	// Bias is optional.
	Bias *FrameRateBias
}

// Select returns the level to draw. The bias only ever moves coarser, and is
// reduced until the chosen level's magnification is within MaxMagnification.
func (s Selector) Select(zoom float64, levelCount int) int {
	base := SelectLevel(zoom, levelCount)
	if s.Bias == nil || levelCount <= 0 || !(zoom > 0) {
		return base
	}
	l := clamp(base+s.Bias.Bias(), 0, levelCount-1)
	if s.MaxMagnification >= 1 {
		for l > base && Magnification(zoom, l) > s.MaxMagnification {
			l--
		}
	}
	return l
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FrameRateBias is a secondary control loop: when the smoothed frame rate
// drops below LowFPS it biases selection one level coarser, and when it rises
// above HighFPS it removes one level of bias. After each change it holds for
// Dwell frames. The zero value is not usable; use NewFrameRateBias.
type FrameRateBias struct {
	LowFPS  float64
	HighFPS float64
	// Alpha is the EWMA weight of the newest sample.
	Alpha   float64
	MaxBias int
	Dwell   int

	fps  float64
	bias int
	hold int
}

// NewFrameRateBias returns a bias loop with tuning constants suitable for a
// 60 Hz display.
func NewFrameRateBias() *FrameRateBias {
	return &FrameRateBias{LowFPS: 30, HighFPS: 55, Alpha: 0.1, MaxBias: 2, Dwell: 30}
}

// Observe feeds one frame duration into the loop.
func (b *FrameRateBias) Observe(frame time.Duration) {
	if frame <= 0 {
		return
	}
	fps := float64(time.Second) / float64(frame)
	if b.fps == 0 {
		b.fps = fps
	} else {
		b.fps += b.Alpha * (fps - b.fps)
	}
	if b.hold > 0 {
		b.hold--
		return
	}
	switch {
	case b.fps < b.LowFPS && b.bias < b.MaxBias:
		b.bias++
		b.hold = b.Dwell
	case b.fps > b.HighFPS && b.bias > 0:
		b.bias--
		b.hold = b.Dwell
	}
}

// Bias returns the number of levels to add to the zoom-selected level.
func (b *FrameRateBias) Bias() int { return b.bias }

// FPS returns the smoothed frame rate.
func (b *FrameRateBias) FPS() float64 { return b.fps }
