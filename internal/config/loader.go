package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the server and the viewer.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	SourceDir    string `json:"source_dir" yaml:"source_dir" toml:"source_dir"`
	Watch        bool   `json:"watch" yaml:"watch" toml:"watch"`
	StoreBackend string `json:"store_backend" yaml:"store_backend" toml:"store_backend"`
	StoreDir     string `json:"store_dir" yaml:"store_dir" toml:"store_dir"`
	ChunkSize    int    `json:"chunk_size" yaml:"chunk_size" toml:"chunk_size"`
	MinSize      int    `json:"min_size" yaml:"min_size" toml:"min_size"`
	Filter       string `json:"filter" yaml:"filter" toml:"filter"`
	HotCacheMB   int    `json:"hot_cache_mb" yaml:"hot_cache_mb" toml:"hot_cache_mb"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// Seconds; 0 disables the per-request ingest timeout.
	IngestTimeout int64      `json:"ingest_timeout" yaml:"ingest_timeout" toml:"ingest_timeout"`
	LogLevel      string     `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORS          CORSConfig `json:"cors" yaml:"cors" toml:"cors"`

	Viewer ViewerConfig `json:"viewer" yaml:"viewer" toml:"viewer"`
}

// CORSConfig enables CORS for browser-based viewers.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// ViewerConfig tunes the client engine run by tileview.
type ViewerConfig struct {
	Server         string `json:"server" yaml:"server" toml:"server"`
	ViewportWidth  int    `json:"viewport_width" yaml:"viewport_width" toml:"viewport_width"`
	ViewportHeight int    `json:"viewport_height" yaml:"viewport_height" toml:"viewport_height"`
	TargetFPS      int    `json:"target_fps" yaml:"target_fps" toml:"target_fps"`

	CPUBudgetMB         int     `json:"cpu_budget_mb" yaml:"cpu_budget_mb" toml:"cpu_budget_mb"`
	GPUBudgetMB         int     `json:"gpu_budget_mb" yaml:"gpu_budget_mb" toml:"gpu_budget_mb"`
	MaxTextures         int     `json:"max_textures" yaml:"max_textures" toml:"max_textures"`
	LowWater            float64 `json:"low_water" yaml:"low_water" toml:"low_water"`
	CancelAfterFrames   int     `json:"cancel_after_frames" yaml:"cancel_after_frames" toml:"cancel_after_frames"`
	MaxPrefetchInFlight int     `json:"max_prefetch_in_flight" yaml:"max_prefetch_in_flight" toml:"max_prefetch_in_flight"`
	// Prefetch issuance rate in requests per second.
	PrefetchRate float64 `json:"prefetch_rate" yaml:"prefetch_rate" toml:"prefetch_rate"`

	CrossFadeMS      int     `json:"cross_fade_ms" yaml:"cross_fade_ms" toml:"cross_fade_ms"`
	MaxMagnification float64 `json:"max_magnification" yaml:"max_magnification" toml:"max_magnification"`
	HistorySize      int     `json:"history_size" yaml:"history_size" toml:"history_size"`
	FetchRetries     int     `json:"fetch_retries" yaml:"fetch_retries" toml:"fetch_retries"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
