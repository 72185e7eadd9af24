// Package ratelimit throttles repeated attempts per key, such as admin
// logins from one client address.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Limiter decides whether another attempt is allowed for a key.
type Limiter interface {
	// Allow records an attempt for key and reports whether it may proceed.
	Allow(ctx context.Context, key string) (*Decision, error)

	// Close releases resources held by the limiter
	Close() error
}

// Decision is the limiter state after one attempt.
type Decision struct {
	// Limit is the number of attempts allowed per window
	Limit int
	// Remaining is the number of attempts left in the current window
	Remaining int
	// ResetAt is when a denied key may try again
	ResetAt time.Time
	// Allowed reports whether this attempt may proceed
	Allowed bool
}

// RetryAfter returns the wait until ResetAt rounded up to whole seconds.
func (d *Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}

// Config sizes a limiter: Limit attempts per Window.
type Config struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DefaultConfig allows five attempts per minute.
func DefaultConfig() Config {
	return Config{Limit: 5, Window: time.Minute}
}
