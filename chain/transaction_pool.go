package chain

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// PoolEntry is a pending transaction tagged with its node-wide arrival sequence.
type PoolEntry struct {
	Tx  *types.Transaction
	Seq uint64
}

// TxPool holds the pending transactions of one shard. At most one block assembly may
// hold a reservation at a time; reserved transactions stay in the pool until a commit
// removes them or the reservation is released.
type TxPool struct {
	mu       sync.Mutex
	entries  map[string]*PoolEntry
	senders  map[string]int
	reserved map[string]struct{}
	inFlight bool
}

func NewTxPool() *TxPool {
	return &TxPool{
		entries:  make(map[string]*PoolEntry),
		senders:  make(map[string]int),
		reserved: make(map[string]struct{}),
	}
}

func (p *TxPool) dropLocked(id string, e *PoolEntry) {
	delete(p.entries, id)
	delete(p.reserved, id)
	if p.senders[e.Tx.Sender]--; p.senders[e.Tx.Sender] <= 0 {
		delete(p.senders, e.Tx.Sender)
	}
}

// AddTransaction adds tx to the pool. Duplicate ids are rejected; duplicate
// (sender, nonce) pairs are kept and resolved at assembly.
func (p *TxPool) AddTransaction(tx *types.Transaction, seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[tx.ID]; exists {
		return errors.Wrapf(types.ErrValidation, "transaction %s already pending", tx.ID)
	}
	p.entries[tx.ID] = &PoolEntry{Tx: tx, Seq: seq}
	p.senders[tx.Sender]++
	return nil
}

// HasSender reports whether any transaction of sender is pending here.
func (p *TxPool) HasSender(sender string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.senders[sender] > 0
}

func (p *TxPool) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

func (p *TxPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// sortedLocked returns entries in arrival order, optionally skipping reserved ones.
func (p *TxPool) sortedLocked(skipReserved bool) []*PoolEntry {
	out := make([]*PoolEntry, 0, len(p.entries))
	for id, e := range p.entries {
		if skipReserved {
			if _, r := p.reserved[id]; r {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Entries returns up to limit pending entries in arrival order; limit <= 0 means all.
// Reserved entries are included.
func (p *TxPool) Entries(limit int) []PoolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	sorted := p.sortedLocked(false)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]PoolEntry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out
}

// Reserve claims up to limit unreserved transactions, in arrival order, for a block
// assembly. Transactions whose nonce is at or below the committed watermark are
// skipped, and so is any transaction queued behind a lower nonce of its sender that did
// not fit. Only one reservation may be outstanding.
func (p *TxPool) Reserve(limit int, watermark func(sender string) (uint64, bool)) ([]*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		return nil, types.ErrAssemblyInFlight
	}

	var (
		out  []*types.Transaction
		left = make(map[string]uint64)
	)
	for _, e := range p.sortedLocked(true) {
		if w, ok := watermark(e.Tx.Sender); ok && e.Tx.Nonce <= w {
			continue
		}
		if limit > 0 && len(out) >= limit {
			if n, ok := left[e.Tx.Sender]; !ok || e.Tx.Nonce < n {
				left[e.Tx.Sender] = e.Tx.Nonce
			}
			continue
		}
		out = append(out, e.Tx)
	}
	if len(left) > 0 {
		kept := out[:0]
		for _, tx := range out {
			if n, ok := left[tx.Sender]; ok && tx.Nonce > n {
				continue
			}
			kept = append(kept, tx)
		}
		out = kept
	}

	p.inFlight = true
	for _, tx := range out {
		p.reserved[tx.ID] = struct{}{}
	}
	return out, nil
}

// Release ends the outstanding reservation. Transactions not removed by a commit become
// available to the next assembly.
func (p *TxPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	p.reserved = make(map[string]struct{})
}

// InFlight reports whether a reservation is outstanding.
func (p *TxPool) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// RemoveTransactions drops the given ids. Unknown ids are ignored.
func (p *TxPool) RemoveTransactions(ids []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if e, ok := p.entries[id]; ok {
			p.dropLocked(id, e)
			removed++
		}
	}
	return removed
}

// PruneStale drops transactions whose nonce is at or below their sender's watermark.
func (p *TxPool) PruneStale(watermarks map[string]uint64) int {
	if len(watermarks) == 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, e := range p.entries {
		if w, ok := watermarks[e.Tx.Sender]; ok && e.Tx.Nonce <= w {
			p.dropLocked(id, e)
			removed++
		}
	}
	return removed
}

// MovePending transfers every entry of src, reserved ones included, into dst and
// returns the number moved. Both pools are locked for the duration; the caller supplies
// a consistent lock order through srcFirst. Entries already present in dst are dropped
// from src without being duplicated.
func MovePending(src, dst *TxPool, srcFirst bool) int {
	if src == dst {
		return 0
	}
	first, second := dst, src
	if srcFirst {
		first, second = src, dst
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	moved := 0
	for id, e := range src.entries {
		if _, exists := dst.entries[id]; !exists {
			dst.entries[id] = e
			dst.senders[e.Tx.Sender]++
			moved++
		}
	}
	src.entries = make(map[string]*PoolEntry)
	src.senders = make(map[string]int)
	src.reserved = make(map[string]struct{})
	return moved
}
