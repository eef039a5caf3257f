package utils

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CacheItem 包装缓存数据和过期时间
type CacheItem struct {
	Data      interface{}
	ExpiresAt time.Time
}

// GlobalCache 全局本地缓存封装
type GlobalCache struct {
	lruCache *lru.Cache[string, CacheItem]
	group    singleflight.Group
	now      func() time.Time
}

var (
	cacheInstance *GlobalCache
	cacheOnce     sync.Once
)

// GetCache 获取单例缓存实例
func GetCache() *GlobalCache {
	cacheOnce.Do(func() {
		// 创建一个容量为 500 的 LRU 缓存
		cacheInstance = NewCache(500)
	})
	return cacheInstance
}

// NewCache 创建独立的缓存实例，size 必须大于 0
func NewCache(size int) *GlobalCache {
	l, err := lru.New[string, CacheItem](size)
	if err != nil {
		panic(err)
	}
	return &GlobalCache{lruCache: l, now: time.Now}
}

// Set 设置缓存，TTL 为过期时间
func (c *GlobalCache) Set(key string, data interface{}, ttl time.Duration) {
	c.lruCache.Add(key, CacheItem{
		Data:      data,
		ExpiresAt: c.now().Add(ttl),
	})
}

// Get 获取缓存，若不存在或已过期则返回 nil
func (c *GlobalCache) Get(key string) interface{} {
	val, ok := c.lruCache.Get(key)
	if !ok {
		return nil
	}

	// 检查过期
	if c.now().After(val.ExpiresAt) {
		c.lruCache.Remove(key)
		return nil
	}

	return val.Data
}

// GetOrCreate 命中则直接返回，否则调用 create 并按绝对过期时间写入
// 同一 key 的并发 miss 只会调用一次 create；create 出错时不缓存
func (c *GlobalCache) GetOrCreate(key string, ttl time.Duration, create func() (interface{}, error)) (interface{}, error) {
	if data := c.Get(key); data != nil {
		return data, nil
	}
	data, err, _ := c.group.Do(key, func() (interface{}, error) {
		if data := c.Get(key); data != nil {
			return data, nil
		}
		data, err := create()
		if err != nil {
			return nil, err
		}
		c.Set(key, data, ttl)
		return data, nil
	})
	return data, err
}

// Delete 删除指定缓存
func (c *GlobalCache) Delete(key string) {
	c.lruCache.Remove(key)
}
