package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"
)

// LRUCache is a bounded cache in front of the Store. The bloom filter remembers every
// key ever added, so a miss on the filter skips the LRU lookup and, for callers, the
// Store read as well.
type LRUCache[V any] struct {
	cache       *lru.Cache[string, V]
	bloomFilter *bloom.BloomFilter
	mutex       sync.RWMutex
}

// NewLRUCache creates a new LRU cache with a Bloom filter
func NewLRUCache[V any](size int, expectedItems uint, falsePositiveRate float64) (*LRUCache[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}

	return &LRUCache[V]{
		cache:       c,
		bloomFilter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}, nil
}

// Get retrieves a value from the cache
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.bloomFilter.TestString(key) {
		var zero V
		return zero, false
	}
	return c.cache.Get(key)
}

// MayContain reports whether key was ever added. False positives are possible,
// false negatives are not.
func (c *LRUCache[V]) MayContain(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.bloomFilter.TestString(key)
}

// Add adds a value to the cache
func (c *LRUCache[V]) Add(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bloomFilter.AddString(key)
	c.cache.Add(key, value)
}

// Remember marks key in the bloom filter without caching a value.
func (c *LRUCache[V]) Remember(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.bloomFilter.AddString(key)
}
