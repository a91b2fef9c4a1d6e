package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilestream/internal/gpu"
	"tilestream/internal/lod"
	"tilestream/internal/prefetch"
	"tilestream/internal/pyramid"
	"tilestream/internal/tilecache"
	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

const tilePx = 256

var (
	prefetchOff = prefetch.Prefetcher{Radius: -1}
	// levels: 1024 (4x4), 512 (2x2), 256 (1x1)
	small = pyramid.Describe("img", 1024, 1024, pyramid.Options{ChunkSize: tilePx, MinSize: 128})
	t0    = time.Unix(1700000000, 0)
)

// fetcher serves blank tiles; tiles on blocked levels wait for release.
func fetcher(blocked map[int]bool, release <-chan struct{}) tilecache.Fetcher {
	return tilecache.FetcherFunc(func(ctx context.Context, id types.TileID) (*types.TileBuffer, error) {
		if blocked[id.Level] {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &types.TileBuffer{Width: tilePx, Height: tilePx, Pix: make([]byte, 4*tilePx*tilePx)}, nil
	})
}

func newScheduler(t *testing.T, desc types.ImageDescriptor, f tilecache.Fetcher, ccfg tilecache.Config, cfg Config) (*Scheduler, *tilecache.Cache, *gpu.Recorder) {
	t.Helper()
	rec := gpu.NewRecorder()
	c := tilecache.New(f, rec, ccfg)
	t.Cleanup(c.Close)
	return New(desc, c, rec, cfg), c, rec
}

func waitResident(t *testing.T, c *tilecache.Cache, ids ...types.TileID) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !c.Residency(id).Ready() {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)
}

func level1() []types.TileID {
	var out []types.TileID
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			out = append(out, types.TileID{ImageID: "img", Level: 1, X: x, Y: y})
		}
	}
	return out
}

// a 512 px screen over the whole 1024 image
var halfZoom = viewport.FromScreen(0, 0, 512, 512, 0.5)

func TestFrame_ConvergesToFullDetail(t *testing.T) {
	s, _, rec := newScheduler(t, small, fetcher(nil, nil), tilecache.Config{}, Config{})

	st := s.Frame(halfZoom, t0)
	assert.Equal(t, 1, st.Level)
	assert.Equal(t, 4, st.Visible)
	assert.Equal(t, 0, st.Drawn)
	assert.Equal(t, 4, st.Uncovered)
	for _, id := range level1() {
		assert.Equal(t, Requested, s.State(id))
	}

	now := t0
	for i := 0; i < 500 && !st.Complete(); i++ {
		time.Sleep(time.Millisecond)
		now = now.Add(20 * time.Millisecond)
		st = s.Frame(halfZoom, now)
	}
	require.True(t, st.Complete(), "%+v", st)
	assert.Equal(t, 4, st.Drawn)
	draws := rec.Draws()
	require.Len(t, draws, 4)
	for _, d := range draws {
		assert.Equal(t, 1.0, d.Opacity)
		assert.InDelta(t, 256, d.M[0], 1e-9, "level-1 tile spans 512 image px, 256 screen px at zoom 0.5")
	}
	for _, id := range level1() {
		assert.Equal(t, Drawn, s.State(id))
	}
	assert.Empty(t, rec.Violations())
}

func TestFrame_AncestorFallbackThenCrossFade(t *testing.T) {
	release := make(chan struct{})
	s, c, rec := newScheduler(t, small, fetcher(map[int]bool{1: true}, release), tilecache.Config{}, Config{CrossFade: 100 * time.Millisecond})

	root := types.TileID{ImageID: "img", Level: 2}
	c.Request(root)
	waitResident(t, c, root)

	st := s.Frame(halfZoom, t0)
	assert.Equal(t, 1, st.Fallbacks)
	assert.Equal(t, 0, st.Uncovered)
	assert.Equal(t, 4, st.Pending)
	draws := rec.Draws()
	require.Len(t, draws, 1)
	assert.InDelta(t, 512, draws[0].M[0], 1e-9, "coarse tile stretched over the whole view")

	close(release)
	waitResident(t, c, level1()...)

	st = s.Frame(halfZoom, t0.Add(10*time.Millisecond))
	assert.Equal(t, 4, st.Fading)
	assert.Equal(t, 1, st.Fallbacks)
	draws = rec.Draws()
	require.Len(t, draws, 5)
	assert.Equal(t, 1.0, draws[0].Opacity, "fallback drawn first, underneath")
	for _, d := range draws[1:] {
		assert.Equal(t, 0.0, d.Opacity)
	}

	s.Frame(halfZoom, t0.Add(60*time.Millisecond))
	for _, d := range rec.Draws()[1:] {
		assert.InDelta(t, 0.5, d.Opacity, 1e-9)
	}

	st = s.Frame(halfZoom, t0.Add(110*time.Millisecond))
	assert.True(t, st.Complete())
	assert.Equal(t, 0, st.Fallbacks)
	assert.Len(t, rec.Draws(), 4)
	assert.Empty(t, rec.Violations())
}

func TestFrame_ArrivalWithoutAncestorIsOpaque(t *testing.T) {
	release := make(chan struct{})
	s, c, rec := newScheduler(t, small, fetcher(map[int]bool{0: true}, release), tilecache.Config{},
		Config{CrossFade: 100 * time.Millisecond, Prefetcher: prefetchOff})
	full := viewport.State{Width: 1024, Height: 1024, Zoom: 1}

	st := s.Frame(full, t0)
	assert.Equal(t, 0, st.Level)
	assert.Equal(t, 16, st.Pending)
	assert.Equal(t, 16, st.Uncovered, "first frame has nothing to draw")
	assert.Empty(t, rec.Draws())

	close(release)
	var ids []types.TileID
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			ids = append(ids, types.TileID{ImageID: "img", X: x, Y: y})
		}
	}
	waitResident(t, c, ids...)

	st = s.Frame(full, t0.Add(10*time.Millisecond))
	assert.Equal(t, 16, st.Drawn)
	assert.Equal(t, 0, st.Fading)
	assert.Equal(t, 0, st.Fallbacks)
	assert.Equal(t, 0, st.Uncovered)
	assert.True(t, st.Complete())
	draws := rec.Draws()
	require.Len(t, draws, 16)
	for _, d := range draws {
		assert.Equal(t, 1.0, d.Opacity, "no ancestor underneath, so no fade")
	}
	for _, id := range []types.TileID{{ImageID: "img", Level: 1}, {ImageID: "img", Level: 2}} {
		assert.Equal(t, tilecache.Absent, c.Residency(id))
	}
}

func TestFrame_DrawSetSurvivesTightGPUBudget(t *testing.T) {
	const tileBytes = 4 * tilePx * tilePx
	s, c, rec := newScheduler(t, small, fetcher(nil, nil),
		tilecache.Config{GPUBudgetBytes: 2 * tileBytes, LowWater: 1},
		Config{CrossFade: -1})

	for _, id := range level1() {
		c.Request(id)
	}
	waitResident(t, c, level1()...)

	for i := 0; i < 3; i++ {
		st := s.Frame(halfZoom, t0.Add(time.Duration(i)*time.Second))
		assert.Equal(t, 4, st.Drawn)
		assert.Len(t, rec.Draws(), 4)
		assert.LessOrEqual(t, c.Stats().Textures, 2, "ceiling restored after the frame")
	}
	assert.Empty(t, rec.Violations())
}

func TestFrame_PrefetchesRing(t *testing.T) {
	big := pyramid.Describe("big", 4096, 4096, pyramid.Options{ChunkSize: tilePx, MinSize: 128})
	s, c, _ := newScheduler(t, big, fetcher(nil, nil), tilecache.Config{}, Config{})

	st := s.Frame(viewport.State{Width: 512, Height: 512, Zoom: 1}, t0)
	assert.Equal(t, 0, st.Level)
	assert.Equal(t, 4, st.Visible)
	assert.Equal(t, 5, st.Prefetched, "3x3 ring minus the visible 2x2")
	assert.GreaterOrEqual(t, c.Stats().Fetches, uint64(9))
}

func TestFrame_Degenerate(t *testing.T) {
	s, c, rec := newScheduler(t, small, fetcher(nil, nil), tilecache.Config{}, Config{})
	st := s.Frame(viewport.State{Width: 0, Height: 10, Zoom: 1}, t0)
	assert.Equal(t, 0, st.Visible)
	assert.Empty(t, rec.Draws())
	assert.EqualValues(t, 1, c.Frame())

	off := viewport.State{OriginX: 1e6, Width: 100, Height: 100, Zoom: 1}
	st = s.Frame(off, t0)
	assert.Equal(t, 0, st.Visible)
	assert.True(t, st.Complete())

	empty := New(types.ImageDescriptor{}, c, rec, Config{})
	st = empty.Frame(halfZoom, t0)
	assert.Equal(t, 0, st.Visible)
}

func TestRun_StopsWithSource(t *testing.T) {
	bias := lod.NewFrameRateBias()
	var seen []FrameStats
	s, _, _ := newScheduler(t, small, fetcher(nil, nil), tilecache.Config{}, Config{
		Selector:      lod.Selector{MaxMagnification: 2, Bias: bias},
		FrameInterval: time.Millisecond,
		OnFrame:       func(st FrameStats) { seen = append(seen, st) },
	})
	n := 0
	err := s.Run(context.Background(), func(time.Time) (viewport.State, bool) {
		n++
		return halfZoom, n <= 5
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
	assert.Greater(t, bias.FPS(), 0.0)
	assert.Equal(t, 5, s.History().Len())
}

func TestRun_Cancelled(t *testing.T) {
	s, _, _ := newScheduler(t, small, fetcher(nil, nil), tilecache.Config{}, Config{FrameInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(time.Time) (viewport.State, bool) { return halfZoom, true })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTileStateString(t *testing.T) {
	assert.Equal(t, "drawn", Drawn.String())
	assert.Equal(t, "missing", TileState(0).String())
}
