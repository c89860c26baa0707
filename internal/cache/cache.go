package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// OutputCache holds reference outputs so a case replayed against another target does not
// re-execute on the reference backend.
type OutputCache interface {
	// Get retrieves the outputs stored under key.
	Get(key string) ([]*tensor.Buffer, bool)
	// Put stores outputs under key.
	Put(key string, outputs []*tensor.Buffer)
	// Size returns the number of entries in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of OutputCache.
type MapCache struct {
	data map[string][]*tensor.Buffer
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string][]*tensor.Buffer),
	}
}

func (c *MapCache) Get(key string) ([]*tensor.Buffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copies so callers cannot modify the cached value
	if v, ok := c.data[key]; ok {
		return cloneAll(v), true
	}
	return nil, false
}

func (c *MapCache) Put(key string, outputs []*tensor.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cloneAll(outputs)
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func cloneAll(bufs []*tensor.Buffer) []*tensor.Buffer {
	dst := make([]*tensor.Buffer, len(bufs))
	for i, b := range bufs {
		if b != nil {
			dst[i] = b.Clone()
		}
	}
	return dst
}

// LRUCache is an OutputCache that keeps at most a fixed number of entries, evicting the least
// recently used.
type LRUCache struct {
	lru *lru.Cache[string, []*tensor.Buffer]
}

func NewLRUCache(size int) (*LRUCache, error) {
	l, err := lru.New[string, []*tensor.Buffer](size)
	if err != nil {
		return nil, errors.Wrapf(err, "lru cache of size %d", size)
	}
	return &LRUCache{lru: l}, nil
}

func (c *LRUCache) Get(key string) ([]*tensor.Buffer, bool) {
	if v, ok := c.lru.Get(key); ok {
		return cloneAll(v), true
	}
	return nil, false
}

func (c *LRUCache) Put(key string, outputs []*tensor.Buffer) {
	c.lru.Add(key, cloneAll(outputs))
}

func (c *LRUCache) Size() int {
	return c.lru.Len()
}
