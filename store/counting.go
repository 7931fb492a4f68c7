package store

import "sync/atomic"

// CountingStore counts every operation that reaches the wrapped Store. Batch writes
// count one operation per batched key.
type CountingStore struct {
	Store
	ops atomic.Uint64
}

func NewCountingStore(s Store) *CountingStore {
	return &CountingStore{Store: s}
}

func (c *CountingStore) Get(key []byte) ([]byte, error) {
	c.ops.Add(1)
	return c.Store.Get(key)
}

func (c *CountingStore) Put(key, value []byte) error {
	c.ops.Add(1)
	return c.Store.Put(key, value)
}

func (c *CountingStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return c.Store.Iterate(prefix, func(key, value []byte) error {
		c.ops.Add(1)
		return fn(key, value)
	})
}

func (c *CountingStore) Write(b *Batch) error {
	c.ops.Add(uint64(b.Len()))
	return c.Store.Write(b)
}

// Ops returns the total number of operations observed so far.
func (c *CountingStore) Ops() uint64 {
	return c.ops.Load()
}
