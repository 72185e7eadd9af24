package replay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrStale is returned for timestamps outside the accepted window.
	ErrStale = errors.New("replay: timestamp outside window")
	// ErrReplayed is returned for a signature already accepted within the window.
	ErrReplayed = errors.New("replay: signature already seen")
)

// Guard checks the signed timestamp of a request against a window and
// remembers accepted signatures so they cannot be presented twice.
type Guard struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// NewGuard creates a guard. A zero window disables the timestamp check and a
// nil store disables fingerprinting.
func NewGuard(store Store, window time.Duration) *Guard {
	return &Guard{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// Window returns the accepted clock skew in either direction.
func (g *Guard) Window() time.Duration {
	return g.window
}

// Check must run after signature verification. timestamp is the signed
// header value in Unix seconds.
func (g *Guard) Check(ctx context.Context, signature, timestamp string) error {
	if g.window > 0 {
		secs, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: unparseable timestamp %q", ErrStale, timestamp)
		}
		skew := g.now().Sub(time.Unix(secs, 0))
		if skew > g.window || skew < -g.window {
			return fmt.Errorf("%w: skew %s", ErrStale, skew.Round(time.Second))
		}
	}

	if g.store == nil {
		return nil
	}

	// A signature can only verify with its own timestamp, so once the window
	// has passed the stale check rejects it and the entry may expire.
	ttl := 2 * g.window
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	// Hex decoding ignores case, so every spelling of a signature verifies.
	seen, err := g.store.SeenBefore(ctx, strings.ToLower(signature), ttl)
	if err != nil {
		return err
	}
	if seen {
		return ErrReplayed
	}
	return nil
}

// Close closes the underlying store.
func (g *Guard) Close() error {
	if g.store == nil {
		return nil
	}
	return g.store.Close()
}
