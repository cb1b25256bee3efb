package threads

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache maps a remote jid to its conversation handle.
type Cache interface {
	Get(ctx context.Context, remoteJID string) (string, bool)
	Set(ctx context.Context, remoteJID, threadID string)
}

// MemoryCache is a process-local, mutex-guarded Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	threads map[string]string
}

// Compile-time check that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{threads: make(map[string]string)}
}

func (c *MemoryCache) Get(ctx context.Context, remoteJID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.threads[remoteJID]
	return id, ok
}

func (c *MemoryCache) Set(ctx context.Context, remoteJID, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[remoteJID] = threadID
}

// RedisKeyPrefix prefixes every cached handle key.
const RedisKeyPrefix = "thread:"

// RedisCache shares handles across SalesPipe replicas. Redis failures degrade
// to cache misses so the registry falls back to the lead store.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps client. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, remoteJID string) (string, bool) {
	id, err := c.client.Get(ctx, RedisKeyPrefix+remoteJID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		slog.Warn("RedisCache.Get: lookup failed, treating as miss", "remoteJID", remoteJID, "error", err)
		return "", false
	}
	return id, id != ""
}

func (c *RedisCache) Set(ctx context.Context, remoteJID, threadID string) {
	if err := c.client.Set(ctx, RedisKeyPrefix+remoteJID, threadID, c.ttl).Err(); err != nil {
		slog.Warn("RedisCache.Set: store failed", "remoteJID", remoteJID, "error", err)
	}
}
