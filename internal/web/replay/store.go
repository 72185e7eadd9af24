// Package replay rejects stale and repeated signed requests.
package replay

import (
	"context"
	"time"
)

// Store remembers request fingerprints for a bounded time.
type Store interface {
	// SeenBefore records key for ttl and reports whether it was already
	// recorded and unexpired. Record and check are atomic.
	SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases resources held by the store
	Close() error
}

// StoreConfig holds common configuration for store backends
type StoreConfig struct {
	// Prefix is prepended to all fingerprint keys
	Prefix string `mapstructure:"prefix"`
}

// DefaultStoreConfig returns a default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Prefix: "relay:replay:",
	}
}
