package cache

import (
	"sync"
	"time"
)

// Cache 内存缓存，条目在最近一次访问后 ttl 内未被访问即过期。
// ttl<=0 表示永不过期。
type Cache[K comparable, V any] struct {
	items map[K]*cacheItem[V]
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// cacheItem 缓存项
type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// New 创建缓存；ttl>0 时启动后台清理，用 Close 停止
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]*cacheItem[V]),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if ttl > 0 {
		go c.janitor(ttl)
	}
	return c
}

func (c *Cache[K, V]) expired(it *cacheItem[V], now time.Time) bool {
	return c.ttl > 0 && now.After(it.expiresAt)
}

// touch 调用方持有 mu
func (c *Cache[K, V]) touch(it *cacheItem[V], now time.Time) {
	if c.ttl > 0 {
		it.expiresAt = now.Add(c.ttl)
	}
}

// Get 获取缓存值并刷新过期时间
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	it, ok := c.items[key]
	if !ok || c.expired(it, now) {
		if ok {
			delete(c.items, key)
		}
		var zero V
		return zero, false
	}
	c.touch(it, now)
	return it.value, true
}

// GetOrCreate 获取缓存值；不存在（或已过期）时用 create 创建并写入
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if it, ok := c.items[key]; ok && !c.expired(it, now) {
		c.touch(it, now)
		return it.value
	}
	it := &cacheItem[V]{value: create()}
	c.touch(it, now)
	c.items[key] = it
	return it.value
}

// Set 设置缓存值
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := &cacheItem[V]{value: value}
	c.touch(it, c.now())
	c.items[key] = it
}

// Delete 删除缓存项
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len 未过期的条目数
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, it := range c.items {
		if !c.expired(it, now) {
			n++
		}
	}
	return n
}

// Purge 删除过期条目，返回删除数量
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, it := range c.items {
		if c.expired(it, now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Close 停止后台清理
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// janitor 定期清理过期项
func (c *Cache[K, V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}
