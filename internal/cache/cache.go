// Package cache holds whole anagram classes keyed by signature so lookups can
// skip the store.
package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/model"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is a read-through cache of signature classes. Implementations are
// safe for concurrent use.
type Cache interface {
	// Load returns the cached class for signature, calling load on a miss.
	Load(ctx context.Context, signature string, load func(ctx context.Context) ([]string, error)) ([]string, error)
	// Add records a newly committed word under signature.
	Add(ctx context.Context, signature, word string)
	// Rebuild drops every cached class. Backends that hold the whole
	// partition repopulate it from all.
	Rebuild(ctx context.Context, all func(ctx context.Context) ([]model.Word, error)) error
	Ping(ctx context.Context) error
	Stats() (hits, misses int64)
	Close() error
}

// New builds the cache selected by cfg.Backend. It returns nil for the none
// backend.
func New(cfg config.CacheConfig, log zerolog.Logger) (Cache, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemory(log), nil
	case BackendRedis:
		r, err := NewRedis(cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
