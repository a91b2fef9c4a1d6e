package tilecache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var errNilBuffer = errors.New("fetcher returned no pixels")

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Entries          int
	Loading          int
	CPUResident      int
	GPUResident      int
	Pinned           int
	CPUBytes         int64
	GPUBytes         int64
	Textures         int
	InFlight         int
	PrefetchInFlight int

	Fetches      uint64
	Failures     uint64
	Stale        uint64
	Cancelled    uint64
	CPUEvictions uint64
	GPUEvictions uint64
	Promotions   uint64
	Overcommits  uint64
}

// Stats returns a snapshot of counters and current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	for _, e := range c.entries {
		switch e.res {
		case Loading:
			s.Loading++
		case CpuResident:
			s.CPUResident++
		case GpuResident:
			s.GPUResident++
		}
		if e.pins > 0 {
			s.Pinned++
		}
	}
	s.CPUBytes = c.cpuBytes
	s.GPUBytes = c.gpuBytes
	s.Textures = c.gpuLRU.Len()
	s.InFlight = c.inflight
	s.PrefetchInFlight = c.prefetch
	return s
}

var (
	fetchesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilestream",
		Subsystem: "cache",
		Name:      "fetches_total",
		Help:      "Tile fetches started",
	})
	fetchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilestream",
		Subsystem: "cache",
		Name:      "fetch_results_total",
		Help:      "Tile fetch outcomes (ok, error, stale, cancelled)",
	}, []string{"result"})
	evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilestream",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries evicted or demoted, by tier",
	}, []string{"tier"})
	promotions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tilestream",
		Subsystem: "cache",
		Name:      "promotions_total",
		Help:      "CPU to GPU uploads",
	})
	residentBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tilestream",
		Subsystem: "cache",
		Name:      "resident_bytes",
		Help:      "Bytes held per tier",
	}, []string{"tier"})
)

func init() {
	prometheus.MustRegister(fetchesStarted, fetchResults, evictions, promotions, residentBytes)
}

func (c *Cache) updateGaugesLocked() {
	residentBytes.WithLabelValues("cpu").Set(float64(c.cpuBytes))
	residentBytes.WithLabelValues("gpu").Set(float64(c.gpuBytes))
}
