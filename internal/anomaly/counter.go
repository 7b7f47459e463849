package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter counts occurrences of a key within a fixed expiry window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter backs counting with INCR + EXPIRE, shared across service
// instances.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr bumps the key and starts its window on first touch.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryCounter is the in-process fallback for dev/testing.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	count   int64
	expires time.Time
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]*memEntry)}
}

// Incr bumps the key, resetting it once its window has lapsed.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	e, ok := c.entries[key]
	if !ok || now.After(e.expires) {
		e = &memEntry{expires: now.Add(window)}
		c.entries[key] = e
	}
	e.count++
	return e.count, nil
}
