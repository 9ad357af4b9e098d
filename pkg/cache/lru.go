package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

type LRUConfig struct {
	Capacity int
	TTL      time.Duration
	Shards   int
	Now      func() time.Time
}

// LRU is a sharded map with per-entry expiry and least-recently-used
// eviction. Each shard has its own lock, so unrelated keys rarely contend.
type LRU[V any] struct {
	shards []*shard[V]
	ttl    time.Duration
	now    func() time.Time
}

type shard[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type item[V any] struct {
	key     string
	value   V
	expires time.Time
}

func NewLRU[V any](config LRUConfig) *LRU[V] {
	if config.Capacity <= 0 {
		config.Capacity = 100
	}
	if config.Shards <= 0 {
		config.Shards = 16
	}
	if config.Shards > config.Capacity {
		config.Shards = config.Capacity
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	c := &LRU[V]{
		shards: make([]*shard[V], config.Shards),
		ttl:    config.TTL,
		now:    config.Now,
	}

	// spread capacity so the shard sizes sum to Capacity
	base, extra := config.Capacity/config.Shards, config.Capacity%config.Shards
	for i := range c.shards {
		capacity := base
		if i < extra {
			capacity++
		}
		c.shards[i] = &shard[V]{
			capacity: capacity,
			order:    list.New(),
			items:    make(map[string]*list.Element),
		}
	}
	return c
}

func (c *LRU[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *LRU[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	el, ok := s.items[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*item[V])
	if c.ttl > 0 && !c.now().Before(it.expires) {
		s.order.Remove(el)
		delete(s.items, key)
		return zero, false
	}
	s.order.MoveToFront(el)
	return it.value, true
}

func (c *LRU[V]) Put(key string, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := s.items[key]; ok {
		it := el.Value.(*item[V])
		it.value = value
		it.expires = expires
		s.order.MoveToFront(el)
		return
	}

	s.items[key] = s.order.PushFront(&item[V]{key: key, value: value, expires: expires})
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*item[V]).key)
	}
}

// Len counts entries, including expired ones not yet evicted.
func (c *LRU[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

func (c *LRU[V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.order.Init()
		s.items = make(map[string]*list.Element)
		s.mu.Unlock()
	}
}
