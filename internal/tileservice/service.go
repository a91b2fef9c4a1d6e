package tileservice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tilestream/internal/tilestore"
	"tilestream/pkg/types"
)

// Service serves descriptors and encoded tiles from a store and runs ingestion.
type Service struct {
	store   tilestore.Store
	backend string
	cfg     ServiceConfig
	log     zerolog.Logger
	pub     EventPublisher
	now     func() time.Time

	hot   *ristretto.Cache[string, []byte]
	reads singleflight.Group
	// ingestion is coalesced per image id
	ingests singleflight.Group

	mu      sync.RWMutex
	descs   map[string]types.ImageDescriptor
	records map[string]*ingestRecord

	started     time.Time
	tilesServed atomic.Uint64
	hotHits     atomic.Uint64
	hotMisses   atomic.Uint64
	ingestsDone atomic.Uint64
}

// New constructs a Service from cfg, applying package defaults.
func New(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		cfg.Store = tilestore.NewMemory()
		cfg.StoreBackend = defaultStoreBackend
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = defaultStoreBackend
	}
	if cfg.HotCacheBytes == 0 {
		cfg.HotCacheBytes = defaultHotCacheBytes
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		store:   cfg.Store,
		backend: cfg.StoreBackend,
		cfg:     cfg,
		log:     cfg.Logger,
		pub:     cfg.Publisher,
		now:     cfg.Now,
		descs:   make(map[string]types.ImageDescriptor),
		records: make(map[string]*ingestRecord),
	}
	if cfg.HotCacheBytes > 0 {
		// NumCounters ~10x the number of tiles expected to fit (~64KiB each).
		counters := max(cfg.HotCacheBytes/(64<<10)*10, 1000)
		hot, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: counters,
			MaxCost:     cfg.HotCacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("hot tile cache: %w", err)
		}
		s.hot = hot
	}
	s.started = s.now()
	return s, nil
}

// SetEventPublisher replaces the event sink.
func (s *Service) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	s.mu.Lock()
	s.pub = p
	s.mu.Unlock()
}

func (s *Service) publish(e Event) {
	s.mu.RLock()
	p := s.pub
	s.mu.RUnlock()
	p.Publish(e)
}

// Ready reports whether the store answers list queries.
func (s *Service) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.store.List(ctx)
	return err == nil
}

// Close releases the hot cache and the store.
func (s *Service) Close() error {
	if s.hot != nil {
		s.hot.Close()
	}
	return s.store.Close()
}

// ListImages returns every committed descriptor.
func (s *Service) ListImages(ctx context.Context) ([]types.ImageDescriptor, error) {
	return s.store.List(ctx)
}

// Descriptor returns the descriptor of imageID. Descriptors are immutable and
// memoized after the first successful read.
func (s *Service) Descriptor(ctx context.Context, imageID string) (types.ImageDescriptor, error) {
	s.mu.RLock()
	d, ok := s.descs[imageID]
	s.mu.RUnlock()
	if ok {
		return d, nil
	}
	d, err := s.store.Descriptor(ctx, imageID)
	if err != nil {
		if IsNotFound(err) {
			return d, ErrNotFound("image " + imageID)
		}
		return d, err
	}
	s.mu.Lock()
	s.descs[imageID] = d
	s.mu.Unlock()
	return d, nil
}

// TileBytes returns the encoded payload of id. Concurrent misses for the same
// tile share one store read.
func (s *Service) TileBytes(ctx context.Context, id types.TileID) ([]byte, error) {
	d, err := s.Descriptor(ctx, id.ImageID)
	if err != nil {
		return nil, err
	}
	if !d.Contains(id) {
		return nil, ErrNotFound("tile " + id.String())
	}
	key := id.String()
	if s.hot != nil {
		if data, ok := s.hot.Get(key); ok {
			s.hotHits.Add(1)
			s.tilesServed.Add(1)
			tilesServedTotal.WithLabelValues("hot").Inc()
			return data, nil
		}
		s.hotMisses.Add(1)
	}
	v, err, _ := s.reads.Do(key, func() (any, error) {
		data, err := s.store.Tile(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.hot != nil {
			s.hot.Set(key, data, int64(len(data)))
		}
		return data, nil
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound("tile " + id.String())
		}
		return nil, fmt.Errorf("read tile %s: %w", id, err)
	}
	s.tilesServed.Add(1)
	tilesServedTotal.WithLabelValues("store").Inc()
	return v.([]byte), nil
}
