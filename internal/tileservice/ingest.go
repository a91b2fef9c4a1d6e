package tileservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tilestream/internal/common/fsutil"
	"tilestream/internal/pyramid"
	"tilestream/internal/registry"
	"tilestream/internal/tilestore"
	"tilestream/pkg/types"
)

// Ingest decodes the source image named by req, builds its pyramid and commits
// it. It returns once the image is fully readable. Concurrent requests for the
// same image id share one build.
func (s *Service) Ingest(ctx context.Context, req types.IngestRequest) (types.ImageDescriptor, error) {
	var zero types.ImageDescriptor
	if req.Path == "" {
		return zero, badRequestError{msg: "path is required"}
	}
	path, err := fsutil.ExpandHome(req.Path)
	if err != nil {
		return zero, badRequestError{msg: err.Error()}
	}
	id := req.ImageID
	if id == "" {
		id = pyramid.ImageIDFromPath(path)
	}
	if !fsutil.SafeName(id) {
		return zero, badRequestError{msg: fmt.Sprintf("invalid image id %q", id)}
	}
	if !fsutil.PathExists(path) {
		return zero, badRequestError{msg: "source not found: " + path}
	}
	if _, err := s.store.Descriptor(ctx, id); err == nil {
		return zero, conflictError{id: id}
	} else if !errors.Is(err, tilestore.ErrNotFound) {
		return zero, err
	}

	v, err, _ := s.ingests.Do(id, func() (any, error) {
		return s.build(ctx, id, path)
	})
	if err != nil {
		return zero, err
	}
	return v.(types.ImageDescriptor), nil
}

func (s *Service) build(ctx context.Context, id, path string) (types.ImageDescriptor, error) {
	opID := uuid.NewString()
	start := s.now()
	s.setRecord(&ingestRecord{imageID: id, source: path, state: stateBuilding, updated: start.Unix()})
	s.publish(Event{Name: EventIngestStart, ImageID: id, Fields: map[string]any{"op_id": opID, "source": path}})
	s.log.Info().Str("op_id", opID).Str("image", id).Str("source", path).Msg("ingest start")

	desc, err := s.buildAndCommit(ctx, id, path)
	elapsed := s.now().Sub(start)
	ingestDuration.Observe(elapsed.Seconds())
	if err != nil {
		ingestsTotal.WithLabelValues("error").Inc()
		s.setRecord(&ingestRecord{imageID: id, source: path, state: stateError, err: err.Error(), updated: s.now().Unix()})
		s.publish(Event{Name: EventIngestFailed, ImageID: id, Fields: map[string]any{"op_id": opID, "error": err.Error()}})
		s.log.Warn().Err(err).Str("op_id", opID).Str("image", id).Msg("ingest failed")
		return desc, err
	}
	ingestsTotal.WithLabelValues("ok").Inc()
	s.ingestsDone.Add(1)
	tiles := desc.TotalChunks
	s.mu.Lock()
	s.descs[id] = desc
	s.mu.Unlock()
	s.setRecord(&ingestRecord{imageID: id, source: path, state: stateReady, tiles: tiles, updated: s.now().Unix()})
	s.publish(Event{Name: EventIngestDone, ImageID: id, Fields: map[string]any{
		"op_id":       opID,
		"levels":      len(desc.Levels),
		"tiles":       tiles,
		"duration_ms": elapsed.Milliseconds(),
	}})
	s.log.Info().Str("op_id", opID).Str("image", id).Int("levels", len(desc.Levels)).Int("tiles", tiles).
		Dur("took", elapsed).Msg("ingest done")
	return desc, nil
}

func (s *Service) buildAndCommit(ctx context.Context, id, path string) (types.ImageDescriptor, error) {
	desc, tiles, err := pyramid.BuildFile(ctx, path, id, s.cfg.Pyramid)
	if err != nil {
		return desc, err
	}
	enc, err := tilestore.EncodeTiles(tiles)
	if err != nil {
		return desc, fmt.Errorf("encode %s: %w", id, err)
	}
	if err := s.store.Commit(ctx, desc, enc); err != nil {
		if errors.Is(err, tilestore.ErrExists) {
			return desc, conflictError{id: id}
		}
		return desc, fmt.Errorf("commit %s: %w", id, err)
	}
	return desc, nil
}

func (s *Service) setRecord(r *ingestRecord) {
	s.mu.Lock()
	s.records[r.imageID] = r
	s.mu.Unlock()
}

// IngestDir ingests every source image in dir that is not yet committed.
// Failures do not stop the scan; they are returned joined.
func (s *Service) IngestDir(ctx context.Context, dir string) ([]types.ImageDescriptor, error) {
	srcs, err := registry.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	var (
		out  []types.ImageDescriptor
		errs []error
	)
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		d, err := s.Ingest(ctx, types.IngestRequest{Path: src.Path, ImageID: src.ImageID})
		switch {
		case err == nil:
			out = append(out, d)
		case IsConflict(err):
			s.log.Debug().Str("image", src.ImageID).Msg("already ingested")
		default:
			errs = append(errs, fmt.Errorf("%s: %w", src.ImageID, err))
		}
	}
	return out, errors.Join(errs...)
}

// WatchDir ingests source images as they appear in dir until ctx ends. It
// returns once the watch is registered.
func (s *Service) WatchDir(ctx context.Context, dir string, settle time.Duration) error {
	return registry.Watch(ctx, dir, settle, func(src registry.Source) {
		_, err := s.Ingest(ctx, types.IngestRequest{Path: src.Path, ImageID: src.ImageID})
		if err != nil && !IsConflict(err) {
			s.log.Error().Err(err).Str("image", src.ImageID).Msg("watch ingest")
		}
	})
}
