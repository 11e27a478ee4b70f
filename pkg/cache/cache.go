package cache

import "time"

// Cache is a TTL cache shared by components that memoize backend lookups.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns (value, true) if found, (nil, false) if not found.
	Get(key string) (interface{}, bool)

	// Set stores a value in the cache with a TTL.
	// Writes are applied asynchronously and may be dropped under contention.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete removes a value from the cache.
	Delete(key string)

	// Clear removes all values from the cache.
	Clear()

	// Close closes the cache and releases resources.
	Close()
}
