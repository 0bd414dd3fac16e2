package utils

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// cacheItem 包装缓存数据和过期时间
type cacheItem[V any] struct {
	Data      V
	ExpiresAt time.Time
}

// Cache 带 TTL 的本地 LRU 缓存
// 每次 Delete 递增版本号；读库前取 Version，回填用 SetSince，
// 读期间被删除过的 key 不会被旧数据覆盖
type Cache[K comparable, V any] struct {
	lruCache *lru.Cache[K, cacheItem[V]]
	ttl      time.Duration
	clock    clockwork.Clock

	mu       sync.Mutex
	version  uint64
	deleted  map[K]uint64 // key -> 最近一次删除时的版本
	floor    uint64       // 早于 floor 的删除记录已丢弃
	capacity int
}

// NewCache 创建容量为 size 的缓存
func NewCache[K comparable, V any](size int, ttl time.Duration, clock clockwork.Clock) (*Cache[K, V], error) {
	l, err := lru.New[K, cacheItem[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[K, V]{
		lruCache: l,
		ttl:      ttl,
		clock:    clock,
		deleted:  make(map[K]uint64),
		capacity: size,
	}, nil
}

// Version 当前版本，在读数据源之前获取
func (c *Cache[K, V]) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// SetSince 仅当 key 在版本 since 之后没有被删除时写入
func (c *Cache[K, V]) SetSince(key K, data V, since uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if since < c.floor || c.deleted[key] > since {
		return false
	}
	c.Set(key, data)
	return true
}

// Set 设置缓存
func (c *Cache[K, V]) Set(key K, data V) {
	c.lruCache.Add(key, cacheItem[V]{
		Data:      data,
		ExpiresAt: c.clock.Now().Add(c.ttl),
	})
}

// Get 获取缓存，不存在或已过期时 ok 为 false
func (c *Cache[K, V]) Get(key K) (V, bool) {
	val, ok := c.lruCache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}

	// 检查过期
	if c.clock.Now().After(val.ExpiresAt) {
		c.lruCache.Remove(key)
		var zero V
		return zero, false
	}

	return val.Data, true
}

// Delete 删除指定缓存
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.deleted[key] = c.version
	if len(c.deleted) > c.capacity {
		clear(c.deleted)
		c.floor = c.version
	}
	c.lruCache.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.lruCache.Len()
}
