package store

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// MemoryStore is a map-backed Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.Wrap(types.ErrStorage, "store closed")
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "key %q", key)
	}
	return bytes.Clone(v), nil
}

func (m *MemoryStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.Wrap(types.ErrStorage, "store closed")
	}
	m.data[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MemoryStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = bytes.Clone(m.data[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Write(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.Wrap(types.ErrStorage, "store closed")
	}
	for _, op := range b.ops {
		switch op.kind {
		case opPut:
			m.data[string(op.key)] = bytes.Clone(op.value)
		case opDelete:
			delete(m.data, string(op.key))
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
