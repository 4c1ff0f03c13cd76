// Package ratelimit implements the per-IP and per-user request quotas described by the external interface contract:
// fixed-window counters layered on the StateStore so they hold up across multiple server processes, not just within
// one.
package ratelimit

import (
	"context"
	"time"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

// Limiter enforces fixed-window counters over a Store. A window is identified by its key; the first Allow call in a
// window creates the counter with a TTL equal to the window length, matching the teacher's own
// reset-the-window-on-expiry approach in internal/gateway/client.go's rateLimited, generalized from an in-process
// counter to one that survives restarts and is shared across processes.
type Limiter struct {
	store *statestore.Store
}

// New creates a Limiter backed by store.
func New(store *statestore.Store) *Limiter {
	return &Limiter{store: store}
}

// Allow increments the counter for key and reports whether the caller is still within the limit (count <= max) for
// the given window. The window starts on the first call for a given key and resets once it elapses.
func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	n, err := l.store.Incr(ctx, "ratelimit:"+key, window)
	if err != nil {
		return false, err
	}
	return n <= int64(max), nil
}

// Remaining reports how many calls are still permitted in the current window for key, without consuming one. Returns
// max if the window has not started yet.
func (l *Limiter) Remaining(ctx context.Context, key string, max int) int {
	raw, ok := l.store.Get(ctx, "ratelimit:"+key)
	if !ok {
		return max
	}
	n := int64(0)
	for _, r := range raw {
		if r < '0' || r > '9' {
			return max
		}
		n = n*10 + int64(r-'0')
	}
	remaining := int64(max) - n
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}
