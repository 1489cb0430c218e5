package badge

import (
	"context"
	"sync"
	"time"

	radix "github.com/mediocregopher/radix/v3"
)

const redisKey = "inbox:unread:total"

// Cache holds the last computed unread total
type Cache interface {
	Get(ctx context.Context) (int, bool, error)
	Set(ctx context.Context, n int, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// RedisCache keeps the total in redis so every server instance shares it
type RedisCache struct {
	redis radix.Client
}

// NewRedisCache connects a pool to addr
func NewRedisCache(addr string) (*RedisCache, error) {
	pool, err := radix.NewPool("tcp", addr, 10)
	if err != nil {
		return nil, err
	}
	return &RedisCache{redis: pool}, nil
}

// NewRedisCacheWith wraps an existing client
func NewRedisCacheWith(client radix.Client) *RedisCache {
	return &RedisCache{redis: client}
}

func (c *RedisCache) Get(ctx context.Context) (int, bool, error) {
	var mn radix.MaybeNil
	var n int
	mn.Rcv = &n
	if err := c.redis.Do(radix.Cmd(&mn, "GET", redisKey)); err != nil {
		return 0, false, err
	}
	if mn.Nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *RedisCache) Set(ctx context.Context, n int, ttl time.Duration) error {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return c.redis.Do(radix.FlatCmd(nil, "SETEX", redisKey, secs, n))
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.redis.Do(radix.Cmd(nil, "DEL", redisKey))
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	return c.redis.Close()
}

// MemoryCache keeps the total in process
type MemoryCache struct {
	now func() time.Time

	mu      sync.Mutex
	n       int
	expires time.Time
	set     bool
}

// NewMemoryCache creates an empty cache
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{now: now}
}

func (c *MemoryCache) Get(context.Context) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set || !c.now().Before(c.expires) {
		return 0, false, nil
	}
	return c.n, true, nil
}

func (c *MemoryCache) Set(_ context.Context, n int, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = n
	c.expires = c.now().Add(ttl)
	c.set = true
	return nil
}

func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = false
	return nil
}
