package tileservice

import (
	"time"

	"github.com/rs/zerolog"

	"tilestream/internal/pyramid"
	"tilestream/internal/tilestore"
)

// Defaults applied when corresponding ServiceConfig fields are unset.
const (
	defaultHotCacheBytes = 256 << 20
	defaultStoreBackend  = tilestore.BackendMemory
)

// ServiceConfig encapsulates all tunables for Service construction.
type ServiceConfig struct {
	Store        tilestore.Store
	StoreBackend string
	Pyramid      pyramid.Options
	// HotCacheBytes bounds the in-memory cache of encoded tiles. Negative disables it.
	HotCacheBytes int64
	Logger        zerolog.Logger
	Publisher     EventPublisher
	// Now is overridable for tests.
	Now func() time.Time
}
