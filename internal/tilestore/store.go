// Package tilestore persists pyramids produced by the pyramid builder.
//
// A store is write-once per image: Commit stores a descriptor together with
// every encoded tile, after which the image is read-only. All read methods
// are safe for concurrent use.
package tilestore

import (
	"context"
	"errors"
	"fmt"

	"tilestream/internal/pyramid"
	"tilestream/internal/tilecodec"
	"tilestream/pkg/types"
)

var (
	// ErrNotFound is returned for unknown images and tiles.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when committing an image id twice.
	ErrExists = errors.New("image already committed")
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Store is the persistence boundary for pyramids.
type Store interface {
	// Commit stores desc and its encoded tiles atomically from the reader's
	// point of view: Descriptor does not succeed before every tile is readable.
	Commit(ctx context.Context, desc types.ImageDescriptor, tiles []EncodedTile) error
	Descriptor(ctx context.Context, imageID string) (types.ImageDescriptor, error)
	// Tile returns the encoded payload of id.
	Tile(ctx context.Context, id types.TileID) ([]byte, error)
	List(ctx context.Context) ([]types.ImageDescriptor, error)
	Close() error
}

// EncodedTile is a tile payload ready for storage.
type EncodedTile struct {
	ID   types.TileID
	Data []byte
}

// Open constructs a store for the named backend. dir is ignored by the memory backend.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFS:
		return NewFS(dir)
	case BackendSQLite:
		return NewSQLite(dir)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// EncodeTiles encodes builder output for Commit.
func EncodeTiles(tiles []pyramid.Tile) ([]EncodedTile, error) {
	out := make([]EncodedTile, len(tiles))
	for i, t := range tiles {
		data, err := tilecodec.Encode(t.Buffer)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", t.ID, err)
		}
		out[i] = EncodedTile{ID: t.ID, Data: data}
	}
	return out, nil
}

// Get returns the decoded pixels of id.
func Get(ctx context.Context, s Store, id types.TileID) (*types.TileBuffer, error) {
	data, err := s.Tile(ctx, id)
	if err != nil {
		return nil, err
	}
	return tilecodec.Decode(data)
}

// validateCommit checks that tiles match desc exactly.
func validateCommit(desc types.ImageDescriptor, tiles []EncodedTile) error {
	if desc.ImageID == "" {
		return fmt.Errorf("commit: empty image id")
	}
	if len(tiles) != desc.TotalChunks {
		return fmt.Errorf("commit %s: %d tiles for %d chunks", desc.ImageID, len(tiles), desc.TotalChunks)
	}
	for _, t := range tiles {
		if !desc.Contains(t.ID) {
			return fmt.Errorf("commit %s: tile %s outside pyramid", desc.ImageID, t.ID)
		}
	}
	return nil
}
