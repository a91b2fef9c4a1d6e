// Package render drives one frame at a time: choose a level, cull, request
// tiles, draw what is resident with coarser ancestors filling the gaps, and
// queue predicted tiles.
package render

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tilestream/internal/cull"
	"tilestream/internal/gpu"
	"tilestream/internal/lod"
	"tilestream/internal/prefetch"
	"tilestream/internal/tilecache"
	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

// Cache is the subset of tilecache.Cache the scheduler drives.
type Cache interface {
	Acquire(id types.TileID) (tilecache.Residency, bool)
	PinReady(id types.TileID) bool
	Prefetch(id types.TileID) bool
	Touch(id types.TileID)
	Unpin(id types.TileID)
	Promote(id types.TileID) (gpu.TextureID, bool)
	EndFrame()
}

var _ Cache = (*tilecache.Cache)(nil)

// TileState is the per-frame state of a visible tile.
type TileState int

const (
	Missing TileState = iota
	Requested
	Ready
	Drawn
)

func (s TileState) String() string {
	switch s {
	case Missing:
		return "missing"
	case Requested:
		return "requested"
	case Ready:
		return "ready"
	case Drawn:
		return "drawn"
	}
	return "unknown"
}

const (
	DefaultCrossFade     = 150 * time.Millisecond
	DefaultFrameInterval = time.Second / 60
	DefaultHistorySize   = 32
)

type Config struct {
	Selector   lod.Selector
	Prefetcher prefetch.Prefetcher
	// CrossFade is how long a newly arrived tile takes to replace the
	// ancestor drawn in its place. Tiles with no ancestor on screen appear at
	// once. Negative disables fading.
	CrossFade     time.Duration
	FrameInterval time.Duration
	HistorySize   int
	Logger        zerolog.Logger
	// OnFrame, if set, is called by Run after every frame.
	OnFrame func(FrameStats)
}

// FrameStats summarizes one frame.
type FrameStats struct {
	Frame      uint64
	Level      int
	Visible    int
	Drawn      int
	Pending    int
	Fading     int
	Fallbacks  int
	Uncovered  int
	Prefetched int
	Elapsed    time.Duration
}

// Complete reports whether every visible tile was drawn at full detail.
func (s FrameStats) Complete() bool { return s.Pending == 0 && s.Fading == 0 }

// Scheduler renders one image. It is driven from the goroutine that owns the
// graphics context and is not safe for concurrent use.
type Scheduler struct {
	desc    types.ImageDescriptor
	cache   Cache
	backend gpu.Backend
	cfg     Config
	log     zerolog.Logger

	history *viewport.History
	states  map[types.TileID]TileState
	fading  map[types.TileID]time.Time
	frame   uint64
}

func New(desc types.ImageDescriptor, c Cache, b gpu.Backend, cfg Config) *Scheduler {
	if cfg.CrossFade == 0 {
		cfg.CrossFade = DefaultCrossFade
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.HistorySize < 2 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Scheduler{
		desc:    desc,
		cache:   c,
		backend: b,
		cfg:     cfg,
		log:     cfg.Logger,
		history: viewport.NewHistory(cfg.HistorySize),
		states:  make(map[types.TileID]TileState),
		fading:  make(map[types.TileID]time.Time),
	}
}

// State returns the state id had at the end of the last frame. Tiles that
// were not visible are Missing.
func (s *Scheduler) State(id types.TileID) TileState { return s.states[id] }

// History exposes the motion samples recorded so far.
func (s *Scheduler) History() *viewport.History { return s.history }

type quad struct {
	id      types.TileID
	tex     gpu.TextureID
	opacity float64
}

// Frame renders vp at time now. It never blocks on tile I/O.
func (s *Scheduler) Frame(vp viewport.State, now time.Time) FrameStats {
	start := time.Now()
	s.frame++
	st := FrameStats{Frame: s.frame}
	s.history.Push(vp, now)

	if f, ok := s.backend.(gpu.Framer); ok {
		f.BeginFrame()
		defer f.EndFrame()
	}
	defer s.cache.EndFrame()

	n := s.desc.LevelCount()
	if n == 0 || vp.Degenerate() {
		clear(s.states)
		clear(s.fading)
		st.Elapsed = time.Since(start)
		return st
	}
	level := s.cfg.Selector.Select(vp.Zoom, n)
	li, _ := s.desc.Level(level)
	visible := cull.VisibleTiles(vp, s.desc.ImageID, s.desc.ChunkSize, li)
	st.Level, st.Visible = level, len(visible)

	states := make(map[types.TileID]TileState, len(visible))
	var pinned []types.TileID
	defer func() {
		for _, id := range pinned {
			s.cache.Unpin(id)
		}
	}()

	// Pin the whole ready set before any upload so promotions cannot
	// evict each other's textures.
	var ready, pending []types.TileID
	for _, id := range visible {
		r, ok := s.cache.Acquire(id)
		switch {
		case ok:
			pinned = append(pinned, id)
			ready = append(ready, id)
		case r == tilecache.Absent:
			states[id] = Missing
			pending = append(pending, id)
		default:
			states[id] = Requested
			pending = append(pending, id)
		}
	}

	var sharp []quad
	var needFallback []types.TileID
	fades := make(map[int]time.Time)
	for _, id := range ready {
		tex, ok := s.cache.Promote(id)
		if !ok {
			states[id] = Ready
			needFallback = append(needFallback, id)
			continue
		}
		states[id] = Drawn
		if began, ok := s.fadeStart(id, now); ok {
			fades[len(sharp)] = began
			needFallback = append(needFallback, id)
		}
		sharp = append(sharp, quad{id: id, tex: tex, opacity: 1})
	}
	st.Drawn = len(sharp)
	st.Pending = len(visible) - len(sharp)
	needFallback = append(needFallback, pending...)

	ancestors, covered := s.fallbacks(needFallback, level, n, states, &pinned, &st)
	for i, began := range fades {
		id := sharp[i].id
		if !covered[id] {
			// nothing underneath to fade from
			delete(s.fading, id)
			continue
		}
		s.fading[id] = began
		sharp[i].opacity = s.fadeOpacity(began, now)
		st.Fading++
	}
	for _, q := range ancestors {
		s.draw(q, vp)
	}
	for _, q := range sharp {
		s.draw(q, vp)
	}

	onScreen := make(map[types.TileID]struct{}, len(visible))
	for _, id := range visible {
		onScreen[id] = struct{}{}
	}
	for _, c := range s.cfg.Prefetcher.Predict(s.history, level, s.desc) {
		if _, ok := onScreen[c.ID]; ok {
			continue
		}
		if s.cache.Prefetch(c.ID) {
			st.Prefetched++
		}
	}

	for _, q := range sharp {
		s.cache.Touch(q.id)
	}
	for _, q := range ancestors {
		s.cache.Touch(q.id)
	}

	s.trackFades(states, now)
	s.states = states
	st.Elapsed = time.Since(start)
	return st
}

// fallbacks finds, for every tile in ids, the nearest coarser ancestor that
// is resident, pins and promotes it, and returns the distinct ancestors
// coarsest first along with the set of tiles that got one. Undrawn tiles with
// no such ancestor count as uncovered.
func (s *Scheduler) fallbacks(ids []types.TileID, level, levels int, states map[types.TileID]TileState, pinned *[]types.TileID, st *FrameStats) ([]quad, map[types.TileID]bool) {
	if len(ids) == 0 {
		return nil, nil
	}
	chosen := make(map[types.TileID]gpu.TextureID)
	covered := make(map[types.TileID]bool, len(ids))
	for _, id := range ids {
		found := false
		for d := 1; level+d < levels; d++ {
			a := id.Parent(d)
			if _, ok := chosen[a]; ok {
				found = true
				break
			}
			if !s.cache.PinReady(a) {
				continue
			}
			*pinned = append(*pinned, a)
			tex, ok := s.cache.Promote(a)
			if !ok {
				continue
			}
			chosen[a] = tex
			found = true
			break
		}
		covered[id] = found
		if !found && states[id] != Drawn {
			st.Uncovered++
		}
	}
	out := make([]quad, 0, len(chosen))
	for a, tex := range chosen {
		out = append(out, quad{id: a, tex: tex, opacity: 1})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].id.Level != out[j].id.Level {
			return out[i].id.Level > out[j].id.Level
		}
		if out[i].id.Y != out[j].id.Y {
			return out[i].id.Y < out[j].id.Y
		}
		return out[i].id.X < out[j].id.X
	})
	st.Fallbacks = len(out)
	return out, covered
}

// fadeStart reports when id's cross-fade began, or now if id became ready
// since the last frame while visible. ok is false when id is not fading.
func (s *Scheduler) fadeStart(id types.TileID, now time.Time) (began time.Time, ok bool) {
	if s.cfg.CrossFade <= 0 {
		return time.Time{}, false
	}
	if began, ok := s.fading[id]; ok {
		return began, now.Sub(began) < s.cfg.CrossFade
	}
	prev, seen := s.states[id]
	if !seen || prev == Drawn {
		return time.Time{}, false
	}
	return now, true
}

// fadeOpacity is the sharp tile's opacity over its ancestor.
func (s *Scheduler) fadeOpacity(began, now time.Time) float64 {
	t := float64(now.Sub(began)) / float64(s.cfg.CrossFade)
	return min(max(t, 0), 1)
}

func (s *Scheduler) trackFades(states map[types.TileID]TileState, now time.Time) {
	for id, began := range s.fading {
		if _, visible := states[id]; !visible || now.Sub(began) >= s.cfg.CrossFade {
			delete(s.fading, id)
		}
	}
}

// draw maps the tile's level-space rectangle to the screen.
func (s *Scheduler) draw(q quad, vp viewport.State) {
	li, ok := s.desc.Level(q.id.Level)
	if !ok || li.Scale <= 0 {
		return
	}
	r := li.TileRect(q.id.X, q.id.Y, s.desc.ChunkSize)
	if r.Empty() {
		return
	}
	x0, y0 := vp.ToScreen(float64(r.Min.X)/li.Scale, float64(r.Min.Y)/li.Scale)
	x1, y1 := vp.ToScreen(float64(r.Max.X)/li.Scale, float64(r.Max.Y)/li.Scale)
	s.backend.DrawQuad(q.tex, gpu.QuadTransform(x0, y0, x1-x0, y1-y0), q.opacity)
}

// Source supplies the viewport for the next frame; ok=false stops Run.
type Source func(now time.Time) (vp viewport.State, ok bool)

// Run renders a frame every FrameInterval until ctx is done or src reports
// false. The measured interval between frames feeds the selector's
// frame-rate bias.
func (s *Scheduler) Run(ctx context.Context, src Source) error {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	var prev time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			vp, ok := src(now)
			if !ok {
				s.log.Debug().Uint64("frames", s.frame).Msg("render source exhausted")
				return nil
			}
			st := s.Frame(vp, now)
			if !prev.IsZero() && s.cfg.Selector.Bias != nil {
				s.cfg.Selector.Bias.Observe(now.Sub(prev))
			}
			prev = now
			if s.cfg.OnFrame != nil {
				s.cfg.OnFrame(st)
			}
		}
	}
}
