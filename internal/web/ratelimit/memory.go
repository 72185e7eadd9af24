package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is an in-process token bucket limiter. Each key starts with Limit
// tokens and regains Limit tokens per Window.
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	window   time.Duration
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemory creates a limiter and starts its sweeper, which forgets keys
// whose bucket has been full for a window.
func NewMemory(config Config) (*Memory, error) {
	if config.Limit <= 0 {
		return nil, errors.New("ratelimit: limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("ratelimit: window must be greater than 0")
	}

	m := &Memory{
		buckets:  make(map[string]*bucket),
		capacity: float64(config.Limit),
		window:   config.Window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go m.sweepLoop(config.Window)
	return m, nil
}

// Allow takes one token from key's bucket.
func (m *Memory) Allow(ctx context.Context, key string) (*Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: m.capacity, lastRefill: now}
		m.buckets[key] = b
	}
	m.refill(b, now)

	d := &Decision{Limit: int(m.capacity)}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = int(b.tokens)
	d.ResetAt = now
	if b.tokens < 1 {
		// Time until the next whole token.
		d.ResetAt = now.Add(time.Duration((1 - b.tokens) * float64(m.window) / m.capacity))
	}
	return d, nil
}

func (m *Memory) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += m.capacity * float64(elapsed) / float64(m.window)
	if b.tokens > m.capacity {
		b.tokens = m.capacity
	}
	b.lastRefill = now
}

func (m *Memory) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, b := range m.buckets {
		if now.Sub(b.lastRefill) > m.window {
			delete(m.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the sweeper. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
