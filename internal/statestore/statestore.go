// Package statestore implements the ephemeral key-value store used for upload tokens, per-user rate counters,
// presence refcounts, and OIDC state/nonce values. It can run against an external Redis-compatible coordinator or
// fall back to an in-process map; callers never see which backend answered a call.
package statestore

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultNamespace = "im"

// Store is the ephemeral state interface used throughout the server: upload-token handshakes, send/pin quotas,
// presence refcounts, and OIDC state/nonce all go through this API regardless of backend.
type Store struct {
	namespace string
	logger    zerolog.Logger

	rdb *redis.Client // nil once degraded or when no Redis URL was configured

	degraded atomic.Bool
	mem      *memoryBackend
}

// New creates a Store. If redisURL is empty, the Store runs entirely on the in-memory backend. If redisURL is set but
// the initial ping fails, the Store still starts, already degraded, and logs once.
func New(redisURL, namespace string, logger zerolog.Logger) *Store {
	if namespace == "" {
		namespace = defaultNamespace
	}

	s := &Store{
		namespace: namespace,
		logger:    logger,
		mem:       newMemoryBackend(),
	}

	if redisURL == "" {
		logger.Info().Msg("statestore using in-memory backend")
		return s
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("statestore redis url invalid, falling back to memory")
		s.degraded.Store(true)
		return s
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("statestore redis unavailable, falling back to memory")
		s.degraded.Store(true)
		return s
	}

	logger.Info().Msg("statestore using redis backend")
	s.rdb = client
	return s
}

// RedisEnabled reports whether the Store is currently backed by Redis (not degraded and configured).
func (s *Store) RedisEnabled() bool {
	return s.rdb != nil && !s.degraded.Load()
}

func (s *Store) key(k string) string {
	return s.namespace + ":" + k
}

// degrade permanently switches the Store to the in-memory backend and logs the transition exactly once.
func (s *Store) degrade(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn().Err(err).Msg("statestore redis operation failed, degrading to memory backend for remainder of process")
	}
}

func (s *Store) useRedis() bool {
	return s.rdb != nil && !s.degraded.Load()
}

// Set stores value under key with an optional TTL. ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	k := s.key(key)
	if s.useRedis() {
		if err := s.rdb.Set(ctx, k, value, ttl).Err(); err != nil {
			s.degrade(err)
		} else {
			return nil
		}
	}
	s.mem.set(k, value, ttl)
	return nil
}

// Get returns the value stored under key, or ("", false) if absent or expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	k := s.key(key)
	if s.useRedis() {
		v, err := s.rdb.Get(ctx, k).Result()
		switch {
		case err == nil:
			return v, true
		case err == redis.Nil:
			return "", false
		default:
			s.degrade(err)
		}
	}
	return s.mem.get(k)
}

// GetAndDelete atomically reads and removes the value under key.
func (s *Store) GetAndDelete(ctx context.Context, key string) (string, bool) {
	k := s.key(key)
	if s.useRedis() {
		v, err := s.rdb.GetDel(ctx, k).Result()
		switch {
		case err == nil:
			return v, true
		case err == redis.Nil:
			return "", false
		default:
			s.degrade(err)
		}
	}
	return s.mem.getAndDelete(k)
}

// Delete removes key unconditionally.
func (s *Store) Delete(ctx context.Context, key string) {
	k := s.key(key)
	if s.useRedis() {
		if err := s.rdb.Del(ctx, k).Err(); err != nil {
			s.degrade(err)
		} else {
			return
		}
	}
	s.mem.delete(k)
}

// Incr increments key and returns the new value. ttl applies only the first time the key is created.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.key(key)
	if s.useRedis() {
		n, err := s.rdb.Incr(ctx, k).Result()
		if err == nil {
			if ttl > 0 && n == 1 {
				// Best-effort: a failure here just means the key lives forever in Redis, which the in-memory
				// fallback does not do, but it does not affect correctness of the counter value itself.
				_ = s.rdb.Expire(ctx, k, ttl).Err()
			}
			return n, nil
		}
		s.degrade(err)
	}
	return s.mem.incr(k, ttl), nil
}

// Decr decrements key, floors at 0, and deletes the key once it reaches 0. Returns the resulting value.
func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	k := s.key(key)
	if s.useRedis() {
		n, err := s.rdb.Decr(ctx, k).Result()
		if err == nil {
			if n <= 0 {
				_ = s.rdb.Del(ctx, k).Err()
				return 0, nil
			}
			return n, nil
		}
		s.degrade(err)
	}
	return s.mem.decr(k), nil
}

// memoryBackend is a mutex-guarded map with lazy TTL expiry, used both standalone and as the fallback for Store.
type memoryBackend struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string]memoryEntry)}
}

func (m *memoryBackend) purgeIfExpiredLocked(key string) {
	e, ok := m.data[key]
	if ok && !e.expiresAt.IsZero() && !e.expiresAt.After(time.Now()) {
		delete(m.data, key)
	}
}

func (m *memoryBackend) set(key, value string, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryEntry{value: value, expiresAt: expiresAt}
}

func (m *memoryBackend) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeIfExpiredLocked(key)
	e, ok := m.data[key]
	return e.value, ok
}

func (m *memoryBackend) getAndDelete(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeIfExpiredLocked(key)
	e, ok := m.data[key]
	if ok {
		delete(m.data, key)
	}
	return e.value, ok
}

func (m *memoryBackend) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *memoryBackend) incr(key string, ttl time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeIfExpiredLocked(key)

	e, existed := m.data[key]
	var n int64 = 1
	expiresAt := e.expiresAt
	if existed {
		v, _ := strconv.ParseInt(e.value, 10, 64)
		n = v + 1
	} else if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: expiresAt}
	return n
}

func (m *memoryBackend) decr(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeIfExpiredLocked(key)

	e, existed := m.data[key]
	if !existed {
		return 0
	}
	v, _ := strconv.ParseInt(e.value, 10, 64)
	n := v - 1
	if n <= 0 {
		delete(m.data, key)
		return 0
	}
	m.data[key] = memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
	return n
}
