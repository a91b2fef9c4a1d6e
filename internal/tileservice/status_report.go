package tileservice

import (
	"sort"

	"tilestream/pkg/types"
)

// Ingestion record states reported by Status.
const (
	stateBuilding = "building"
	stateReady    = "ready"
	stateError    = "error"
)

type ingestRecord struct {
	imageID string
	source  string
	state   string
	tiles   int
	err     string
	updated int64
}

// Status builds the response for /status.
func (s *Service) Status() types.StatusResponse {
	s.mu.RLock()
	resp := types.StatusResponse{
		StoreBackend: s.backend,
		Images:       make([]types.IngestStatus, 0, len(s.records)),
	}
	for _, r := range s.records {
		resp.Images = append(resp.Images, types.IngestStatus{
			ImageID:     r.imageID,
			State:       r.state,
			Source:      r.source,
			Tiles:       r.tiles,
			Error:       r.err,
			UpdatedUnix: r.updated,
		})
	}
	s.mu.RUnlock()
	sort.Slice(resp.Images, func(i, j int) bool { return resp.Images[i].ImageID < resp.Images[j].ImageID })

	hits, misses := s.hotHits.Load(), s.hotMisses.Load()
	if hits+misses > 0 {
		resp.CacheHitRatio = float64(hits) / float64(hits+misses)
	}
	now := s.now()
	resp.TilesServed = s.tilesServed.Load()
	resp.IngestsTotal = s.ingestsDone.Load()
	resp.UptimeSeconds = int64(now.Sub(s.started).Seconds())
	resp.ServerTimeUnix = now.Unix()
	return resp
}
