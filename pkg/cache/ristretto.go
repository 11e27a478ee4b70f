package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache is a cache implementation using Ristretto.
type RistrettoCache struct {
	name   string
	cache  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig holds configuration for Ristretto cache.
type RistrettoConfig struct {
	Name        string // metric label, e.g. "instances"
	NumCounters int64  // Number of keys to track frequency (10x max items)
	MaxCost     int64  // Maximum number of items (every item costs 1)
	BufferItems int64  // Number of keys per Get buffer
	Logger      *zap.Logger
}

// NewRistrettoCache creates a new Ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	name := cfg.Name
	if name == "" {
		name = "default"
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &RistrettoCache{
		name:   name,
		cache:  cache,
		logger: cfg.Logger.With(zap.String("cache", name)),
	}, nil
}

// Get retrieves a value from the cache.
func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	value, found := r.cache.Get(key)
	if found {
		CacheOperationsTotal.WithLabelValues(r.name, "get", "hit").Inc()
	} else {
		CacheOperationsTotal.WithLabelValues(r.name, "get", "miss").Inc()
	}
	return value, found
}

// Set stores a value in the cache with a TTL.
func (r *RistrettoCache) Set(key string, value interface{}, ttl time.Duration) bool {
	success := r.cache.SetWithTTL(key, value, 1, ttl)
	if success {
		CacheOperationsTotal.WithLabelValues(r.name, "set", "ok").Inc()
	} else {
		CacheOperationsTotal.WithLabelValues(r.name, "set", "dropped").Inc()
		r.logger.Debug("cache-set-dropped", zap.String("key", key))
	}
	return success
}

// Delete removes a value from the cache.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
	CacheOperationsTotal.WithLabelValues(r.name, "delete", "ok").Inc()
}

// Clear removes all values from the cache.
func (r *RistrettoCache) Clear() {
	r.cache.Clear()
	r.logger.Info("cache-cleared")
}

// Close closes the cache and releases resources.
func (r *RistrettoCache) Close() {
	r.cache.Close()
	r.logger.Info("cache-closed")
}

// Wait blocks until all pending writes have been applied.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}
