package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Fingerprints are not shared between
// replicas.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	config  StoreConfig
	now     func() time.Time
	cancel  context.CancelFunc
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(DefaultStoreConfig())
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom configuration
func NewMemoryStoreWithConfig(config StoreConfig) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		config:  config,
		now:     time.Now,
		cancel:  cancel,
	}

	go s.cleanupExpired(ctx, time.Minute)

	return s
}

// SeenBefore records key and reports whether it was already present
func (s *MemoryStore) SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullKey := s.config.Prefix + key

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[fullKey]; ok && now.Before(expiry) {
		return true, nil
	}
	s.entries[fullKey] = now.Add(ttl)
	return false, nil
}

// Len returns the number of fingerprints held, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background cleanup goroutine
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// cleanupExpired periodically removes expired fingerprints
func (s *MemoryStore) cleanupExpired(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, key)
		}
	}
}
