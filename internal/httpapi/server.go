package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tilestream/internal/tilecodec"
	"tilestream/internal/tileservice"
	"tilestream/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListImages(ctx context.Context) ([]types.ImageDescriptor, error)
	Descriptor(ctx context.Context, imageID string) (types.ImageDescriptor, error)
	TileBytes(ctx context.Context, id types.TileID) ([]byte, error)
	Ingest(ctx context.Context, req types.IngestRequest) (types.ImageDescriptor, error)
	Status() types.StatusResponse
	Ready() bool
}

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// tileCacheControl marks tiles as cacheable forever: committed pyramids never change.
const tileCacheControl = "public, max-age=31536000, immutable"

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"ETag"},
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints; PNG tiles are not in the default type list.
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/images", func(w http.ResponseWriter, r *http.Request) {
		imgs, err := svc.ListImages(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if imgs == nil {
			imgs = []types.ImageDescriptor{}
		}
		writeJSON(w, http.StatusOK, types.ImagesResponse{Images: imgs})
	})

	r.Get("/images/{imageID}", func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Descriptor(r.Context(), chi.URLParam(r, "imageID"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	r.Get("/images/{imageID}/tiles/{level}/{x}/{y}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseTileID(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		d, err := svc.Descriptor(r.Context(), id.ImageID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !d.Contains(id) {
			writeJSONError(w, http.StatusNotFound, "not found: tile "+id.String())
			return
		}
		etag := tileETag(id)
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", tileCacheControl)
		if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		data, err := svc.TileBytes(r.Context(), id)
		if err != nil {
			w.Header().Del("ETag")
			w.Header().Del("Cache-Control")
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", tilecodec.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	r.Post("/ingest", func(w http.ResponseWriter, r *http.Request) {
		// Content-Type check
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		// Limit body size (configurable, default 1MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			writeJSONError(w, http.StatusBadRequest, "path is required")
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logEvent(r, lvl, LevelInfo, "ingest start", map[string]any{"source": req.Path, "image": req.ImageID})
		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if ingestTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(ingestTimeout)*time.Second)
			defer tcancel()
		}
		d, err := svc.Ingest(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := writeServiceError(w, r, err)
			logEvent(r, lvl, LevelInfo, "ingest end", map[string]any{"status": status, "dur": time.Since(start).String(), "error": err.Error()})
			return
		}
		logEvent(r, lvl, LevelInfo, "ingest end", map[string]any{"status": http.StatusCreated, "dur": time.Since(start).String(), "image": d.ImageID})
		writeJSON(w, http.StatusCreated, d)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	})

	if eventHub != nil {
		r.Get("/events", eventHub.ServeHTTP)
	}

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func parseTileID(r *http.Request) (types.TileID, error) {
	id := types.TileID{ImageID: chi.URLParam(r, "imageID")}
	var err error
	if id.Level, err = parseCoord("level", chi.URLParam(r, "level")); err != nil {
		return id, err
	}
	if id.X, err = parseCoord("x", chi.URLParam(r, "x")); err != nil {
		return id, err
	}
	if id.Y, err = parseCoord("y", chi.URLParam(r, "y")); err != nil {
		return id, err
	}
	return id, nil
}

func parseCoord(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &coordError{name: name, value: s}
	}
	return n, nil
}

type coordError struct{ name, value string }

func (e *coordError) Error() string { return "invalid " + e.name + ": " + strconv.Quote(e.value) }

// tileETag derives a strong validator from the tile id; committed images are write-once.
func tileETag(id types.TileID) string {
	return `"` + id.String() + `"`
}

func etagMatches(header, etag string) bool {
	for _, part := range strings.Split(header, ",") {
		p := strings.TrimSpace(part)
		if p == "*" || strings.TrimPrefix(p, "W/") == etag {
			return true
		}
	}
	return false
}

// writeServiceError maps well-known service errors to HTTP status codes and
// returns the status written.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) int {
	status := http.StatusInternalServerError
	switch {
	case tileservice.IsNotFound(err):
		status = http.StatusNotFound
	case tileservice.IsBadRequest(err):
		status = http.StatusBadRequest
	case tileservice.IsConflict(err):
		status = http.StatusConflict
	case tileservice.IsInvalidImage(err):
		status = http.StatusUnprocessableEntity
	default:
		if he, ok := err.(HTTPError); ok {
			status = he.StatusCode()
		}
	}
	if status == http.StatusInternalServerError {
		if zlog != nil {
			z := zlog.Error().Err(err).Str("path", r.URL.Path)
			if rid := middleware.GetReqID(r.Context()); rid != "" { z = z.Str("request_id", rid) }
			z.Msg("request failed")
		} else {
			log.Printf("request failed path=%s err=%v", r.URL.Path, err)
		}
	}
	writeJSONError(w, status, err.Error())
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeJSONError writes the error body every endpoint shares.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}
