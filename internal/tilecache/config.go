package tilecache

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultCPUBudgetBytes      = 512 << 20
	DefaultGPUBudgetBytes      = 256 << 20
	DefaultMaxTextures         = 1024
	DefaultLowWater            = 0.7
	DefaultCancelAfterFrames   = 30
	DefaultMaxPrefetchInFlight = 8
	DefaultPrefetchRate        = 64
	DefaultRetryInitial        = 100 * time.Millisecond
	DefaultRetryMax            = 5 * time.Second
)

// Config encapsulates the cache ceilings and prefetch bounds.
type Config struct {
	CPUBudgetBytes int64
	GPUBudgetBytes int64
	MaxTextures    int
	// LowWater is the fraction of a ceiling eviction reclaims down to, in (0, 1].
	LowWater          float64
	CancelAfterFrames int

	MaxPrefetchInFlight int
	// PrefetchRate is prefetches started per second; negative means unlimited.
	PrefetchRate  float64
	PrefetchBurst int

	// RetryInitial and RetryMax bound the exponential delay before a tile
	// whose fetch failed is fetched again.
	RetryInitial time.Duration
	RetryMax     time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CPUBudgetBytes <= 0 {
		c.CPUBudgetBytes = DefaultCPUBudgetBytes
	}
	if c.GPUBudgetBytes <= 0 {
		c.GPUBudgetBytes = DefaultGPUBudgetBytes
	}
	if c.MaxTextures <= 0 {
		c.MaxTextures = DefaultMaxTextures
	}
	if !(c.LowWater > 0) || c.LowWater > 1 {
		c.LowWater = DefaultLowWater
	}
	if c.CancelAfterFrames <= 0 {
		c.CancelAfterFrames = DefaultCancelAfterFrames
	}
	if c.MaxPrefetchInFlight <= 0 {
		c.MaxPrefetchInFlight = DefaultMaxPrefetchInFlight
	}
	if c.PrefetchRate == 0 {
		c.PrefetchRate = DefaultPrefetchRate
	}
	if c.PrefetchBurst <= 0 {
		c.PrefetchBurst = c.MaxPrefetchInFlight
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = max(DefaultRetryMax, c.RetryInitial)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
