package prefetch

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilestream/internal/pyramid"
	"tilestream/internal/viewport"
)

var (
	desc = pyramid.Describe("img", 4096, 4096, pyramid.Options{ChunkSize: 512, MinSize: 256})
	t0   = time.Unix(1700000000, 0)
)

func history(states ...viewport.State) *viewport.History {
	h := viewport.NewHistory(8)
	for i, s := range states {
		h.Push(s, t0.Add(time.Duration(i)*100*time.Millisecond))
	}
	return h
}

func TestPredict_Stationary(t *testing.T) {
	vp := viewport.State{OriginX: 1024, OriginY: 1024, Width: 1024, Height: 1024, Zoom: 1}
	got := Prefetcher{}.Predict(history(vp, vp), 0, desc)
	require.Len(t, got, 16)
	for _, c := range got {
		assert.Equal(t, 0, c.ID.Level)
		assert.True(t, c.ID.X >= 1 && c.ID.X <= 4 && c.ID.Y >= 1 && c.ID.Y <= 4, "%s", c.ID)
	}
	// the four tiles around the centre come first
	for _, c := range got[:4] {
		assert.Contains(t, []int{2, 3}, c.ID.X)
		assert.Contains(t, []int{2, 3}, c.ID.Y)
	}
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Priority > got[j].Priority }))
}

func TestPredict_PanAhead(t *testing.T) {
	s := viewport.State{Width: 1024, Height: 1024, Zoom: 1}
	a, b, c := s, s, s
	b.OriginX, c.OriginX = 512, 1024
	got := Prefetcher{Horizon: 300 * time.Millisecond}.Predict(history(a, b, c), 0, desc)
	require.NotEmpty(t, got)
	assert.Contains(t, []int{5, 6}, got[0].ID.X, "predicted view is x=[2560,3584)")
	for _, cand := range got {
		assert.GreaterOrEqual(t, cand.ID.X, 4)
	}
}

func TestPredict_ZoomOutAddsCoarserLevel(t *testing.T) {
	a := viewport.State{Width: 512, Height: 512, Zoom: 1}
	b := a.ZoomAt(0.5, 0, 0)
	// zoom halves every 100ms: level 2 at the horizon, covering [0,2048)
	got := Prefetcher{Horizon: 100 * time.Millisecond}.Predict(history(a, b), 1, desc)
	levels := map[int]int{}
	for _, c := range got {
		levels[c.ID.Level]++
		if c.ID.Level == 2 {
			assert.LessOrEqual(t, c.Priority, otherLevelWeight)
		}
	}
	assert.Equal(t, 9, levels[1])
	assert.Equal(t, 4, levels[2])
	assert.Equal(t, 1, got[0].ID.Level)
}

func TestPredict_KeepsLevelBias(t *testing.T) {
	vp := viewport.State{Width: 1024, Height: 1024, Zoom: 0.5}
	got := Prefetcher{}.Predict(history(vp, vp), 2, desc)
	require.NotEmpty(t, got)
	for _, c := range got {
		assert.Equal(t, 2, c.ID.Level)
	}
}

func TestPredict_Caps(t *testing.T) {
	vp := viewport.State{Width: 2048, Height: 2048, Zoom: 1}
	got := Prefetcher{MaxCandidates: 3}.Predict(history(vp), 0, desc)
	assert.Len(t, got, 3)
}

func TestPredict_NoRing(t *testing.T) {
	vp := viewport.State{OriginX: 1024, OriginY: 1024, Width: 1024, Height: 1024, Zoom: 1}
	got := Prefetcher{Radius: -1}.Predict(history(vp), 0, desc)
	assert.Len(t, got, 4)
}

func TestPredict_Empty(t *testing.T) {
	assert.Nil(t, Prefetcher{}.Predict(nil, 0, desc))
	assert.Nil(t, Prefetcher{}.Predict(viewport.NewHistory(4), 0, desc))
	assert.Nil(t, Prefetcher{}.Predict(history(viewport.State{Width: 10, Height: 10}), 0, desc))
	off := viewport.State{OriginX: -5000, Width: 100, Height: 100, Zoom: 1}
	assert.Empty(t, Prefetcher{}.Predict(history(off), 0, desc))
}

func TestExtrapolate(t *testing.T) {
	s := viewport.State{OriginX: 10, Width: 10, Height: 10, Zoom: 2}
	assert.Equal(t, viewport.State{}, Extrapolate(nil, time.Second))
	one := []viewport.MotionSample{{State: s, At: t0}}
	assert.Equal(t, s, Extrapolate(one, time.Second))
	same := []viewport.MotionSample{{State: s, At: t0}, {State: s, At: t0}}
	assert.Equal(t, s, Extrapolate(same, time.Second), "zero dt")

	moved := s
	moved.OriginX, moved.Zoom = 20, 4
	got := Extrapolate([]viewport.MotionSample{{State: s, At: t0}, {State: moved, At: t0.Add(time.Second)}}, time.Second)
	assert.InDelta(t, 30, got.OriginX, 1e-9)
	assert.InDelta(t, 8, got.Zoom, 1e-9)
	assert.InDelta(t, 5, got.Width, 1e-9, "screen size kept at the new zoom")
}
