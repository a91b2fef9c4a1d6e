package tilestore

import (
	"context"
	"sort"
	"sync"

	"tilestream/pkg/types"
)

// Memory keeps everything in process memory. Intended for tests and small deployments.
type Memory struct {
	mu    sync.RWMutex
	descs map[string]types.ImageDescriptor
	tiles map[types.TileID][]byte
}

func NewMemory() *Memory {
	return &Memory{
		descs: make(map[string]types.ImageDescriptor),
		tiles: make(map[types.TileID][]byte),
	}
}

func (m *Memory) Commit(_ context.Context, desc types.ImageDescriptor, tiles []EncodedTile) error {
	if err := validateCommit(desc, tiles); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.descs[desc.ImageID]; ok {
		return ErrExists
	}
	for _, t := range tiles {
		m.tiles[t.ID] = t.Data
	}
	m.descs[desc.ImageID] = desc
	return nil
}

func (m *Memory) Descriptor(_ context.Context, imageID string) (types.ImageDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descs[imageID]
	if !ok {
		return types.ImageDescriptor{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) Tile(_ context.Context, id types.TileID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.tiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) List(_ context.Context) ([]types.ImageDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ImageDescriptor, 0, len(m.descs))
	for _, d := range m.descs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })
	return out, nil
}

func (m *Memory) Close() error { return nil }
