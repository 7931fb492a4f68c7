package consensus

import (
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/address"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Registry is the set of known authorities. Callers only ever see copies.
type Registry struct {
	mu          sync.RWMutex
	authorities map[string]*types.Authority
}

func NewRegistry() *Registry {
	return &Registry{authorities: make(map[string]*types.Authority)}
}

// Register adds a new authority. Its ID must be the address of its public key.
func (r *Registry) Register(a *types.Authority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(a)
}

func (r *Registry) registerLocked(a *types.Authority) error {
	if a == nil {
		return errors.Wrap(types.ErrConsensus, "nil authority")
	}
	derived, err := address.FromPublicKey(a.PublicKey)
	if err != nil || derived != a.ID {
		return errors.Wrapf(types.ErrConsensus, "authority %s does not match its public key", a.ID)
	}
	if !a.Category.Valid() {
		return errors.Wrapf(types.ErrConsensus, "authority %s has unknown category %d", a.ID, a.Category)
	}
	if _, exists := r.authorities[a.ID]; exists {
		return errors.Wrapf(types.ErrConsensus, "authority %s already registered", a.ID)
	}
	r.authorities[a.ID] = a.Clone()
	return nil
}

func (r *Registry) Get(id string) (*types.Authority, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.authorities[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.authorities)
}

// All returns every authority ordered by ID.
func (r *Registry) All() []*types.Authority {
	return r.list(false)
}

// Active returns the active authorities ordered by ID.
func (r *Registry) Active() []*types.Authority {
	return r.list(true)
}

func (r *Registry) list(activeOnly bool) []*types.Authority {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Authority, 0, len(r.authorities))
	for _, a := range r.authorities {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Deactivate removes id from production. Deactivated authorities stay registered.
func (r *Registry) Deactivate(id string) error {
	if !r.update(id, func(a *types.Authority) { a.Active = false }) {
		return errors.Wrapf(types.ErrNotFound, "authority %s", id)
	}
	return nil
}

// update runs fn on the stored authority under the write lock.
func (r *Registry) update(id string, fn func(a *types.Authority)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.authorities[id]
	if !ok {
		return false
	}
	fn(a)
	return true
}

func (r *Registry) clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for id, a := range r.authorities {
		c.authorities[id] = a.Clone()
	}
	return c
}

// Snapshot encodes the registry, ordered by ID.
func (r *Registry) Snapshot() ([]byte, error) {
	data, err := cbor.Marshal(r.All())
	if err != nil {
		return nil, errors.Wrap(err, "encode authority registry")
	}
	return data, nil
}

// Restore replaces the registry contents with a snapshot.
func (r *Registry) Restore(data []byte) error {
	var list []*types.Authority
	if err := cbor.Unmarshal(data, &list); err != nil {
		return errors.Wrapf(types.ErrStorage, "decode authority registry: %v", err)
	}
	m := make(map[string]*types.Authority, len(list))
	for _, a := range list {
		m[a.ID] = a
	}
	r.mu.Lock()
	r.authorities = m
	r.mu.Unlock()
	return nil
}

func clampReputation(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
