package config

import (
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	fallbackCPUBudgetMB = 512
	maxCPUBudgetMB      = 4096
)

// Defaults returns a fully populated configuration.
func Defaults() Config {
	return Config{
		Addr:         ":8080",
		SourceDir:    "~/slides",
		StoreBackend: "fs",
		StoreDir:     "~/.tilestream/store",
		ChunkSize:    512,
		MinSize:      256,
		Filter:       "catmullrom",
		HotCacheMB:   256,
		MaxBodyBytes: 1 << 20,
		LogLevel:     "info",
		CORS: CORSConfig{
			Origins: []string{"*"},
			Methods: []string{"GET", "POST", "OPTIONS"},
			Headers: []string{"Content-Type", "If-None-Match"},
		},
		Viewer: ViewerConfig{
			Server:              "http://localhost:8080",
			ViewportWidth:       1280,
			ViewportHeight:      800,
			TargetFPS:           60,
			CPUBudgetMB:         DefaultCPUBudgetMB(),
			GPUBudgetMB:         256,
			MaxTextures:         1024,
			LowWater:            0.7,
			CancelAfterFrames:   30,
			MaxPrefetchInFlight: 8,
			PrefetchRate:        64,
			CrossFadeMS:         150,
			MaxMagnification:    2,
			HistorySize:         32,
			FetchRetries:        3,
		},
	}
}

// ApplyDefaults fills every zero field of cfg from Defaults.
func ApplyDefaults(cfg Config) Config {
	d := Defaults()
	if cfg.Addr == "" { cfg.Addr = d.Addr }
	if cfg.SourceDir == "" { cfg.SourceDir = d.SourceDir }
	if cfg.StoreBackend == "" { cfg.StoreBackend = d.StoreBackend }
	if cfg.StoreDir == "" { cfg.StoreDir = d.StoreDir }
	if cfg.ChunkSize <= 0 { cfg.ChunkSize = d.ChunkSize }
	if cfg.MinSize <= 0 { cfg.MinSize = d.MinSize }
	if cfg.Filter == "" { cfg.Filter = d.Filter }
	if cfg.HotCacheMB == 0 { cfg.HotCacheMB = d.HotCacheMB }
	if cfg.MaxBodyBytes <= 0 { cfg.MaxBodyBytes = d.MaxBodyBytes }
	if cfg.LogLevel == "" { cfg.LogLevel = d.LogLevel }
	if len(cfg.CORS.Origins) == 0 { cfg.CORS.Origins = d.CORS.Origins }
	if len(cfg.CORS.Methods) == 0 { cfg.CORS.Methods = d.CORS.Methods }
	if len(cfg.CORS.Headers) == 0 { cfg.CORS.Headers = d.CORS.Headers }

	v, dv := &cfg.Viewer, d.Viewer
	if v.Server == "" { v.Server = dv.Server }
	if v.ViewportWidth <= 0 { v.ViewportWidth = dv.ViewportWidth }
	if v.ViewportHeight <= 0 { v.ViewportHeight = dv.ViewportHeight }
	if v.TargetFPS <= 0 { v.TargetFPS = dv.TargetFPS }
	if v.CPUBudgetMB <= 0 { v.CPUBudgetMB = dv.CPUBudgetMB }
	if v.GPUBudgetMB <= 0 { v.GPUBudgetMB = dv.GPUBudgetMB }
	if v.MaxTextures <= 0 { v.MaxTextures = dv.MaxTextures }
	if v.LowWater <= 0 || v.LowWater > 1 { v.LowWater = dv.LowWater }
	if v.CancelAfterFrames <= 0 { v.CancelAfterFrames = dv.CancelAfterFrames }
	if v.MaxPrefetchInFlight <= 0 { v.MaxPrefetchInFlight = dv.MaxPrefetchInFlight }
	if v.PrefetchRate <= 0 { v.PrefetchRate = dv.PrefetchRate }
	if v.CrossFadeMS <= 0 { v.CrossFadeMS = dv.CrossFadeMS }
	if v.MaxMagnification < 1 { v.MaxMagnification = dv.MaxMagnification }
	if v.HistorySize <= 1 { v.HistorySize = dv.HistorySize }
	if v.FetchRetries <= 0 { v.FetchRetries = dv.FetchRetries }
	return cfg
}

// DefaultCPUBudgetMB sizes the viewer's CPU tile cache at 1/8 of physical
// memory, capped, falling back to a fixed value when memory cannot be read.
func DefaultCPUBudgetMB() int {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return fallbackCPUBudgetMB
	}
	mb := int(vm.Total / 8 / (1 << 20))
	if mb < fallbackCPUBudgetMB {
		return fallbackCPUBudgetMB
	}
	return min(mb, maxCPUBudgetMB)
}
