package tilecache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tilestream/internal/gpu"
	"tilestream/pkg/types"
)

// Residency is the storage tier currently holding a tile.
type Residency int

const (
	Absent Residency = iota
	Loading
	CpuResident
	GpuResident
)

func (r Residency) String() string {
	switch r {
	case Absent:
		return "absent"
	case Loading:
		return "loading"
	case CpuResident:
		return "cpu"
	case GpuResident:
		return "gpu"
	}
	return "unknown"
}

// Ready reports whether pixels are available for drawing.
func (r Residency) Ready() bool { return r == CpuResident || r == GpuResident }

// Tier names a memory ceiling.
type Tier int

const (
	TierCPU Tier = iota
	TierGPU
)

// Fetcher loads the pixels of one tile. Fetch runs on its own goroutine and
// must return promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, id types.TileID) (*types.TileBuffer, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id types.TileID) (*types.TileBuffer, error)

func (f FetcherFunc) Fetch(ctx context.Context, id types.TileID) (*types.TileBuffer, error) {
	return f(ctx, id)
}

type entry struct {
	id  types.TileID
	res Residency
	// buf is kept while GPU resident until the CPU tier reclaims it.
	buf        *types.TileBuffer
	tex        gpu.TextureID
	texBytes   int64
	lastAccess time.Time
	lastWanted uint64
	cancel     context.CancelFunc
	gen        uint64
	pins       int
	prefetch   bool
	// retry spaces out refetches of a tile that keeps failing.
	retry   *backoff.ExponentialBackOff
	retryAt time.Time
}

// Cache holds tile pixels in a CPU tier and a GPU tier. Request, Prefetch,
// Touch, Pin and the accessors are safe for concurrent use. Promote, EndFrame,
// Evict(TierGPU) and Close create or destroy textures and must be called from
// the goroutine that owns the graphics context.
type Cache struct {
	fetcher Fetcher
	backend gpu.Backend
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	entries  map[types.TileID]*entry
	cpuLRU   *simplelru.LRU[types.TileID, struct{}]
	gpuLRU   *simplelru.LRU[types.TileID, struct{}]
	cpuBytes int64
	gpuBytes int64
	frame    uint64
	gen      uint64
	inflight int
	prefetch int
	closed   bool
	stats    Stats
}

// New constructs a cache fetching misses through f and uploading through b.
func New(f Fetcher, b gpu.Backend, cfg Config) *Cache {
	cfg = cfg.withDefaults()
	// Capacity is enforced by byte budgets, not entry counts.
	cpuLRU, _ := simplelru.NewLRU[types.TileID, struct{}](math.MaxInt32, nil)
	gpuLRU, _ := simplelru.NewLRU[types.TileID, struct{}](math.MaxInt32, nil)
	ctx, stop := context.WithCancel(context.Background())
	limit := rate.Inf
	if cfg.PrefetchRate > 0 {
		limit = rate.Limit(cfg.PrefetchRate)
	}
	return &Cache{
		fetcher: f,
		backend: b,
		cfg:     cfg,
		log:     cfg.Logger,
		limiter: rate.NewLimiter(limit, cfg.PrefetchBurst),
		ctx:     ctx,
		stop:    stop,
		entries: make(map[types.TileID]*entry),
		cpuLRU:  cpuLRU,
		gpuLRU:  gpuLRU,
	}
}

// Request returns the residency of id and, when it is absent, starts exactly
// one fetch for it. A tile whose last fetch failed is not refetched until its
// retry delay has passed. It never blocks on I/O.
func (c *Cache) Request(id types.TileID) Residency {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.requestLocked(id)
	if e == nil {
		return Absent
	}
	return e.res
}

// Acquire is Request followed, when the tile is ready, by Pin under the same
// lock, so the tile cannot be evicted between the two. pinned reports whether
// a pin was taken and must be released with Unpin.
func (c *Cache) Acquire(id types.TileID) (r Residency, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.requestLocked(id)
	if e == nil {
		return Absent, false
	}
	if e.res.Ready() {
		e.pins++
		return e.res, true
	}
	return e.res, false
}

func (c *Cache) requestLocked(id types.TileID) *entry {
	if c.closed {
		return nil
	}
	e := c.entries[id]
	if e == nil {
		e = &entry{id: id}
		c.entries[id] = e
	}
	e.lastWanted = c.frame
	switch e.res {
	case Absent:
		if c.cfg.Now().Before(e.retryAt) {
			break
		}
		c.startFetchLocked(e, false)
	case Loading:
		if e.prefetch {
			// now on screen: release the prefetch slot
			e.prefetch = false
			c.prefetch--
		}
	}
	return e
}

// Prefetch starts a low-priority fetch for id if it is absent, the number of
// prefetches in flight is below MaxPrefetchInFlight and the issuance limiter
// allows it. It reports whether a fetch was started.
func (c *Cache) Prefetch(id types.TileID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	e := c.entries[id]
	if e != nil {
		// keep an in-flight fetch alive while it is still predicted
		e.lastWanted = c.frame
		if e.res != Absent || c.cfg.Now().Before(e.retryAt) {
			return false
		}
	}
	if c.prefetch >= c.cfg.MaxPrefetchInFlight || !c.limiter.Allow() {
		return false
	}
	if e == nil {
		e = &entry{id: id, lastWanted: c.frame}
		c.entries[id] = e
	}
	c.startFetchLocked(e, true)
	c.prefetch++
	return true
}

func (c *Cache) startFetchLocked(e *entry, prefetch bool) {
	c.gen++
	e.gen = c.gen
	e.res = Loading
	e.prefetch = prefetch
	ctx, cancel := context.WithCancel(c.ctx)
	e.cancel = cancel
	c.inflight++
	c.stats.Fetches++
	fetchesStarted.Inc()
	c.wg.Add(1)
	go c.runFetch(ctx, e.id, e.gen)
}

func (c *Cache) runFetch(ctx context.Context, id types.TileID, gen uint64) {
	defer c.wg.Done()
	buf, err := c.fetcher.Fetch(ctx, id)
	if err == nil && buf == nil {
		err = errNilBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	e := c.entries[id]
	if e == nil || e.gen != gen || e.res != Loading {
		c.stats.Stale++
		fetchResults.WithLabelValues("stale").Inc()
		return
	}
	e.cancel = nil
	if e.prefetch {
		e.prefetch = false
		c.prefetch--
	}
	if err != nil {
		// Absent again so a later Request retries, once the delay has passed.
		e.res = Absent
		if e.retry == nil {
			e.retry = c.newRetryBackOff()
		}
		delay := e.retry.NextBackOff()
		e.retryAt = c.cfg.Now().Add(delay)
		c.stats.Failures++
		fetchResults.WithLabelValues("error").Inc()
		c.log.Debug().Err(err).Str("tile", id.String()).Dur("retry_in", delay).Msg("tile fetch failed")
		return
	}
	e.retry, e.retryAt = nil, time.Time{}
	fetchResults.WithLabelValues("ok").Inc()
	e.buf = buf
	e.res = CpuResident
	e.lastAccess = c.cfg.Now()
	c.cpuBytes += buf.SizeBytes()
	c.cpuLRU.Add(id, struct{}{})
	if c.cpuBytes > c.cfg.CPUBudgetBytes {
		c.evictCPULocked()
	}
	c.updateGaugesLocked()
}

func (c *Cache) newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.MaxInterval = c.cfg.RetryMax
	b.MaxElapsedTime = 0
	b.Clock = clockFunc(c.cfg.Now)
	b.Reset()
	return b
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// Touch marks id as used now for LRU ordering in both tiers.
func (c *Cache) Touch(id types.TileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil {
		return
	}
	e.lastAccess = c.cfg.Now()
	e.lastWanted = c.frame
	c.cpuLRU.Get(id)
	c.gpuLRU.Get(id)
}

// Pin protects id from eviction until the matching Unpin. Pinning an unknown
// tile is a no-op and reports false.
func (c *Cache) Pin(id types.TileID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil {
		return false
	}
	e.pins++
	return true
}

// PinReady pins id only if it is CPU or GPU resident, reporting whether it did.
func (c *Cache) PinReady(id types.TileID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil || !e.res.Ready() {
		return false
	}
	e.pins++
	return true
}

func (c *Cache) Unpin(id types.TileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[id]; e != nil && e.pins > 0 {
		e.pins--
	}
}

// Residency returns the current tier of id without side effects.
func (c *Cache) Residency(id types.TileID) Residency {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[id]; e != nil {
		return e.res
	}
	return Absent
}

// Buffer returns the CPU copy of id if one is held.
func (c *Cache) Buffer(id types.TileID) (*types.TileBuffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[id]; e != nil && e.buf != nil {
		return e.buf, true
	}
	return nil, false
}

// Texture returns the GPU handle of id if it is GPU resident.
func (c *Cache) Texture(id types.TileID) (gpu.TextureID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[id]; e != nil && e.res == GpuResident {
		return e.tex, true
	}
	return gpu.InvalidTexture, false
}

// Promote makes id GPU resident, uploading its CPU copy if needed, and returns
// its texture. Room is made by evicting unpinned textures; when every resident
// texture is pinned the GPU budget is exceeded for this frame rather than
// leaving the tile undrawn, and EndFrame reclaims it afterwards.
func (c *Cache) Promote(id types.TileID) (gpu.TextureID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil || c.closed {
		return gpu.InvalidTexture, false
	}
	if e.res == GpuResident {
		c.gpuLRU.Get(id)
		return e.tex, true
	}
	if e.res != CpuResident || e.buf == nil {
		return gpu.InvalidTexture, false
	}
	size := e.buf.SizeBytes()
	if c.gpuBytes+size > c.cfg.GPUBudgetBytes || c.gpuLRU.Len()+1 > c.cfg.MaxTextures {
		c.evictGPULocked(size, 1)
		if c.gpuBytes+size > c.cfg.GPUBudgetBytes || c.gpuLRU.Len()+1 > c.cfg.MaxTextures {
			c.stats.Overcommits++
		}
	}
	tex, err := c.backend.CreateTexture(e.buf.Width, e.buf.Height)
	if err != nil {
		c.log.Warn().Err(err).Str("tile", id.String()).Msg("create texture")
		return gpu.InvalidTexture, false
	}
	if err := c.backend.Upload(tex, 0, 0, e.buf.Width, e.buf.Height, e.buf.Pix); err != nil {
		c.backend.DestroyTexture(tex)
		c.log.Warn().Err(err).Str("tile", id.String()).Msg("upload texture")
		return gpu.InvalidTexture, false
	}
	e.tex = tex
	e.texBytes = size
	e.res = GpuResident
	c.gpuBytes += size
	c.gpuLRU.Add(id, struct{}{})
	c.stats.Promotions++
	promotions.Inc()
	c.updateGaugesLocked()
	return tex, true
}

// EndFrame advances the frame counter, cancels fetches nobody asked for in the
// last CancelAfterFrames frames, forgets stale failed entries and brings the
// GPU tier back under its ceilings.
func (c *Cache) EndFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame++
	horizon := uint64(c.cfg.CancelAfterFrames)
	for id, e := range c.entries {
		if c.frame-e.lastWanted <= horizon || e.pins > 0 {
			continue
		}
		switch e.res {
		case Loading:
			e.cancel()
			if e.prefetch {
				c.prefetch--
			}
			delete(c.entries, id)
			c.stats.Cancelled++
			fetchResults.WithLabelValues("cancelled").Inc()
		case Absent:
			delete(c.entries, id)
		}
	}
	if c.gpuBytes > c.cfg.GPUBudgetBytes || c.gpuLRU.Len() > c.cfg.MaxTextures {
		c.evictGPULocked(0, 0)
	}
	c.updateGaugesLocked()
}

// Evict reclaims the tier down to LowWater of its ceiling if it is over the
// ceiling, and returns the number of entries evicted or demoted.
func (c *Cache) Evict(t Tier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	switch t {
	case TierCPU:
		if c.cpuBytes > c.cfg.CPUBudgetBytes {
			n = c.evictCPULocked()
		}
	case TierGPU:
		if c.gpuBytes > c.cfg.GPUBudgetBytes || c.gpuLRU.Len() > c.cfg.MaxTextures {
			n = c.evictGPULocked(0, 0)
		}
	}
	c.updateGaugesLocked()
	return n
}

// evictCPULocked drops CPU copies oldest first, skipping pinned entries,
// until the tier is at or below its low-water mark. Entries that are also GPU
// resident keep their texture. No graphics calls are made.
func (c *Cache) evictCPULocked() int {
	target := int64(float64(c.cfg.CPUBudgetBytes) * c.cfg.LowWater)
	n := 0
	for _, id := range c.cpuLRU.Keys() {
		if c.cpuBytes <= target {
			break
		}
		e := c.entries[id]
		if e == nil {
			c.cpuLRU.Remove(id)
			continue
		}
		if e.pins > 0 {
			continue
		}
		c.cpuBytes -= e.buf.SizeBytes()
		e.buf = nil
		c.cpuLRU.Remove(id)
		if e.res == CpuResident {
			delete(c.entries, id)
		}
		n++
	}
	c.stats.CPUEvictions += uint64(n)
	evictions.WithLabelValues("cpu").Add(float64(n))
	return n
}

// evictGPULocked destroys textures oldest first, skipping pinned entries,
// until extraBytes more bytes and extraTex more textures fit under the
// low-water marks. Entries with a CPU copy are demoted, the rest forgotten.
func (c *Cache) evictGPULocked(extraBytes int64, extraTex int) int {
	byteTarget := int64(float64(c.cfg.GPUBudgetBytes) * c.cfg.LowWater)
	texTarget := int(float64(c.cfg.MaxTextures) * c.cfg.LowWater)
	n := 0
	for _, id := range c.gpuLRU.Keys() {
		if c.gpuBytes+extraBytes <= byteTarget && c.gpuLRU.Len()+extraTex <= texTarget {
			break
		}
		e := c.entries[id]
		if e == nil {
			c.gpuLRU.Remove(id)
			continue
		}
		if e.pins > 0 {
			continue
		}
		c.releaseTextureLocked(e)
		if e.buf != nil {
			e.res = CpuResident
		} else {
			delete(c.entries, id)
		}
		n++
	}
	c.stats.GPUEvictions += uint64(n)
	evictions.WithLabelValues("gpu").Add(float64(n))
	return n
}

func (c *Cache) releaseTextureLocked(e *entry) {
	if e.tex == gpu.InvalidTexture {
		return
	}
	c.backend.DestroyTexture(e.tex)
	c.gpuBytes -= e.texBytes
	c.gpuLRU.Remove(e.id)
	e.tex = gpu.InvalidTexture
	e.texBytes = 0
}

// Close cancels every fetch, destroys every texture exactly once and waits for
// fetch goroutines to exit.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stop()
	for id, e := range c.entries {
		c.releaseTextureLocked(e)
		delete(c.entries, id)
	}
	c.cpuLRU.Purge()
	c.cpuBytes = 0
	c.updateGaugesLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

// Frame returns the number of completed frames.
func (c *Cache) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}
