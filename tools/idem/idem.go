package idem

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Store 幂等存储：第一次看到 key 返回 false，TTL 内再次看到返回 true
type Store interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程，LRU 限容） -----
type memIdem struct {
	mu    sync.Mutex
	cache *lru.Cache // key -> expire time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewMem 最多记住 size 个 key，超过后淘汰最久未见的
func NewMem(size int, defaultTTL time.Duration) (Store, error) {
	return newMem(size, defaultTTL, time.Now)
}

func newMem(size int, defaultTTL time.Duration, now func() time.Time) (*memIdem, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &memIdem{cache: c, ttl: defaultTTL, now: now}, nil
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if v, ok := mi.cache.Get(key); ok && v.(time.Time).After(now) {
		return true, nil // 已见过
	}
	mi.cache.Add(key, now.Add(ttl))
	return false, nil
}
