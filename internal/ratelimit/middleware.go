package ratelimit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

// fiberStorage adapts a Store to fiber's Storage interface so the stock limiter middleware runs against the same
// backend (in-memory or Redis) as every other ephemeral counter in the server, instead of keeping its own separate
// in-process table per route.
type fiberStorage struct {
	store *statestore.Store
}

func (s *fiberStorage) Get(key string) ([]byte, error) {
	return s.GetWithContext(context.Background(), key)
}

func (s *fiberStorage) GetWithContext(ctx context.Context, key string) ([]byte, error) {
	v, ok := s.store.Get(ctx, key)
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (s *fiberStorage) Set(key string, val []byte, exp time.Duration) error {
	return s.SetWithContext(context.Background(), key, val, exp)
}

func (s *fiberStorage) SetWithContext(ctx context.Context, key string, val []byte, exp time.Duration) error {
	return s.store.Set(ctx, key, string(val), exp)
}

func (s *fiberStorage) Delete(key string) error {
	return s.DeleteWithContext(context.Background(), key)
}

func (s *fiberStorage) DeleteWithContext(ctx context.Context, key string) error {
	s.store.Delete(ctx, key)
	return nil
}

// Reset is a no-op: the shared Store has no "clear everything under this adapter's prefix" primitive, and the
// limiter middleware only calls it in test harnesses, never on the request path.
func (s *fiberStorage) Reset() error {
	return s.ResetWithContext(context.Background())
}

func (s *fiberStorage) ResetWithContext(_ context.Context) error {
	return nil
}

func (s *fiberStorage) Close() error {
	return nil
}

// HTTPLimiter returns Fiber middleware enforcing a per-source-IP quota of max requests per window, backed by store so
// the quota holds across server processes. No route mounts it: the register, login and upload routes use Fiber's
// limiter with its default in-process storage, and advanced search calls Limiter.Allow directly.
func HTTPLimiter(store *statestore.Store, max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    &fiberStorage{store: store},
		KeyGenerator: func(c fiber.Ctx) string {
			return "http:" + c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return httputil.Fail(c, fiber.StatusTooManyRequests, httputil.CodeRateLimited, "Too many requests, please try again later")
		},
	})
}
