package types

// IngestRequest asks the server to build a pyramid from a source image.
type IngestRequest struct {
	// Path of the source image on the server host. A leading ~ is expanded.
	// example: /data/slides/slide-0042.tif
	Path string `json:"path" example:"/data/slides/slide-0042.tif"`
	// Optional image id. Defaults to the file name without extension.
	// example: slide-0042
	ImageID string `json:"image_id,omitempty" example:"slide-0042"`
}

// ImagesResponse wraps the list returned by GET /images.
type ImagesResponse struct {
	Images []ImageDescriptor `json:"images"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid image: zero area
	Error string `json:"error" example:"invalid image: zero area"`
	// HTTP status code.
	// example: 422
	Code int `json:"code" example:"422"`
}

// IngestStatus summarizes one ingestion for /status.
type IngestStatus struct {
	// example: slide-0042
	ImageID string `json:"image_id" example:"slide-0042"`
	// Lifecycle state: building, ready or error.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: /data/slides/slide-0042.tif
	Source string `json:"source,omitempty" example:"/data/slides/slide-0042.tif"`
	// example: 85
	Tiles int `json:"tiles" example:"85"`
	// Error message when State is error.
	Error string `json:"error,omitempty"`
	// Completion time (unix seconds).
	// example: 1700000000
	UpdatedUnix int64 `json:"updated_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Images []IngestStatus `json:"images"`
	// Tile store backend name.
	// example: fs
	StoreBackend string `json:"store_backend" example:"fs"`
	// Hot tile cache hit ratio since start.
	// example: 0.93
	CacheHitRatio float64 `json:"cache_hit_ratio" example:"0.93"`
	// Number of tiles served since start.
	// example: 1200
	TilesServed uint64 `json:"tiles_served" example:"1200"`
	// Number of completed ingestions since start.
	// example: 3
	IngestsTotal uint64 `json:"ingests_total" example:"3"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// EventMessage is the JSON frame pushed on the /events websocket.
type EventMessage struct {
	// example: ingest_done
	Name string `json:"name" example:"ingest_done"`
	// example: slide-0042
	ImageID string         `json:"image_id" example:"slide-0042"`
	Fields  map[string]any `json:"fields,omitempty"`
}
