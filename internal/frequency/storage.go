// Package frequency gates how often a popup may be shown to one browser.
package frequency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned by storages that cannot be used at all, the
// equivalent of a browser with storage disabled.
var ErrUnavailable = errors.New("storage unavailable")

// Storage is the key/value capability the gate needs. Implementations may
// fail; the gate treats every failure as "eligible".
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryStorage is an in-process Storage, one per browser session or device.
type MemoryStorage struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{vals: map[string]string{}}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

// Unavailable is a Storage whose every call fails.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string) (string, bool, error) { return "", false, ErrUnavailable }
func (Unavailable) Set(context.Context, string, string) error         { return ErrUnavailable }
func (Unavailable) Remove(context.Context, string) error              { return ErrUnavailable }

// RedisStorage keeps gate markers for one visitor in Redis so visitors
// without usable browser storage are still gated server-side.
type RedisStorage struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStorage scopes keys under "anchor:gate:<visitor>:". A zero ttl keeps
// keys until removed.
func NewRedisStorage(rdb *redis.Client, visitor string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{rdb: rdb, namespace: "anchor:gate:" + visitor + ":", ttl: ttl}
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.namespace+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.namespace+key, value, s.ttl).Err()
}

func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.namespace+key).Err()
}
