package state

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"stathat.com/c/consistent"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

const ringReplicas = 64

// shardMap is the persisted form of the router layout.
type shardMap struct {
	Strategy Strategy        `cbor:"1,keyasint"`
	Shards   []types.ShardID `cbor:"2,keyasint"`
	NextID   types.ShardID   `cbor:"3,keyasint"`
}

// Router assigns transactions to shards over a consistent-hash ring and owns the shard
// pools. A transaction id is pending in at most one pool.
//
// Lock order: Router.mu before any pool lock. The router never calls into the ledger.
type Router struct {
	strategy Strategy
	db       store.Store
	logger   *zap.Logger

	mu     sync.RWMutex
	ring   *consistent.Consistent
	shards map[types.ShardID]*Shard
	byKey  map[string]types.ShardID
	order  []types.ShardID
	nextID types.ShardID

	admit sync.Mutex
	seq   atomic.Uint64

	listenMu  sync.Mutex
	listeners []func(ids []types.ShardID)
}

var _ chain.PendingPools = (*Router)(nil)

// NewRouter restores the shard map from db when one is stored, and otherwise creates
// initial shards and persists them. db may be nil.
func NewRouter(strategy Strategy, initial int, db store.Store, logger *zap.Logger) (*Router, error) {
	if !strategy.Valid() {
		return nil, errors.Wrapf(types.ErrRouting, "invalid strategy %d", strategy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		strategy: strategy,
		db:       db,
		logger:   logger.Named("router"),
	}

	layout, found, err := r.loadMap()
	if err != nil {
		return nil, err
	}
	if found {
		if layout.Strategy != strategy {
			r.logger.Warn("routing strategy changed since the shard map was stored",
				zap.Stringer("stored", layout.Strategy),
				zap.Stringer("configured", strategy))
		}
	} else {
		if initial < 1 {
			return nil, errors.Wrapf(types.ErrRouting, "need at least one shard, got %d", initial)
		}
		layout = shardMap{Strategy: strategy}
		for i := 0; i < initial; i++ {
			layout.Shards = append(layout.Shards, types.ShardID(i))
		}
		layout.NextID = types.ShardID(initial)
		if err := r.saveMap(layout); err != nil {
			return nil, err
		}
	}

	shards := make(map[types.ShardID]*Shard, len(layout.Shards))
	for _, id := range layout.Shards {
		shards[id] = newShard(id)
	}
	r.install(shards, layout.NextID)
	r.logger.Info("shard router ready",
		zap.Stringer("strategy", strategy),
		zap.Int("shards", len(shards)),
		zap.Bool("restored", found))
	return r, nil
}

func (r *Router) loadMap() (shardMap, bool, error) {
	var layout shardMap
	if r.db == nil {
		return layout, false, nil
	}
	data, err := r.db.Get([]byte(store.ShardMapKey))
	if errors.Is(err, types.ErrNotFound) {
		return layout, false, nil
	}
	if err != nil {
		return layout, false, errors.Wrapf(types.ErrRouting, "load shard map: %v", err)
	}
	if err := cbor.Unmarshal(data, &layout); err != nil {
		return layout, false, errors.Wrapf(types.ErrRouting, "decode shard map: %v", err)
	}
	if len(layout.Shards) == 0 {
		return layout, false, errors.Wrap(types.ErrRouting, "stored shard map is empty")
	}
	return layout, true, nil
}

func (r *Router) saveMap(layout shardMap) error {
	if r.db == nil {
		return nil
	}
	data, err := cbor.Marshal(&layout)
	if err != nil {
		return errors.Wrapf(types.ErrRouting, "encode shard map: %v", err)
	}
	if err := r.db.Put([]byte(store.ShardMapKey), data); err != nil {
		return errors.Wrapf(types.ErrRouting, "persist shard map: %v", err)
	}
	return nil
}

func newRing(shards map[types.ShardID]*Shard) *consistent.Consistent {
	ring := consistent.New()
	ring.NumberOfReplicas = ringReplicas
	for _, s := range shards {
		ring.Add(s.Key)
	}
	return ring
}

// install swaps in a new layout. r.mu must be held for writing, or r not yet shared.
func (r *Router) install(shards map[types.ShardID]*Shard, nextID types.ShardID) {
	r.shards = shards
	r.nextID = nextID
	r.ring = newRing(shards)
	r.byKey = make(map[string]types.ShardID, len(shards))
	r.order = r.order[:0]
	for id, s := range shards {
		r.byKey[s.Key] = id
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
}

func (r *Router) Strategy() Strategy { return r.strategy }

// OnChange registers fn to be called with the new shard ids after every rebalance.
func (r *Router) OnChange(fn func(ids []types.ShardID)) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Router) notify(ids []types.ShardID) {
	r.listenMu.Lock()
	listeners := append([]func([]types.ShardID){}, r.listeners...)
	r.listenMu.Unlock()
	for _, fn := range listeners {
		fn(ids)
	}
}

// Route returns the shard for tx under the current map.
func (r *Router) Route(tx *types.Transaction) (types.ShardID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routeLocked(tx)
}

func (r *Router) routeLocked(tx *types.Transaction) (types.ShardID, error) {
	member, err := r.ring.Get(RoutingKey(tx, r.strategy))
	if err != nil {
		return 0, errors.Wrapf(types.ErrRouting, "route transaction %s: %v", tx.ID, err)
	}
	id, ok := r.byKey[member]
	if !ok {
		return 0, errors.Wrapf(types.ErrRouting, "ring member %s has no shard", member)
	}
	return id, nil
}

// Submit queues tx on the shard that already holds its sender's pending transactions,
// and otherwise on the shard its routing key maps to. Keeping a sender in one pool lets
// its nonces commit in order across rebalances.
func (r *Router) Submit(tx *types.Transaction) (types.ShardID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.admit.Lock()
	defer r.admit.Unlock()

	for _, s := range r.shards {
		if s.Pool.Has(tx.ID) {
			return 0, errors.Wrapf(types.ErrValidation, "transaction %s already pending on %s", tx.ID, s.ID)
		}
	}
	id, err := r.routeLocked(tx)
	if err != nil {
		return 0, err
	}
	if held, ok := r.senderShardLocked(tx.Sender); ok {
		id = held
	}
	if err := r.shards[id].Pool.AddTransaction(tx, r.seq.Add(1)); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Router) senderShardLocked(sender string) (types.ShardID, bool) {
	for _, id := range r.order {
		if r.shards[id].Pool.HasSender(sender) {
			return id, true
		}
	}
	return 0, false
}

// Pending returns up to limit transactions across all shards in block order.
func (r *Router) Pending(limit int) []*types.Transaction {
	r.mu.RLock()
	var entries []chain.PoolEntry
	for _, s := range r.shards {
		entries = append(entries, s.Pool.Entries(0)...)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	txs := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = e.Tx
	}
	txs = chain.OrderTransactions(txs)
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}

// Peek returns up to limit pending transactions of one shard in arrival order.
func (r *Router) Peek(shard types.ShardID, limit int) ([]*types.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shards[shard]
	if !ok {
		return nil, errors.Wrapf(types.ErrRouting, "unknown %s", shard)
	}
	entries := s.Pool.Entries(limit)
	out := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx
	}
	return out, nil
}

func (r *Router) Reserve(shard types.ShardID, limit int, watermark chain.WatermarkFunc) ([]*types.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shards[shard]
	if !ok {
		return nil, errors.Wrapf(types.ErrRouting, "unknown %s", shard)
	}
	return s.Pool.Reserve(limit, watermark)
}

// Release ends the reservation on shard. Retired shards are ignored.
func (r *Router) Release(shard types.ShardID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shards[shard]; ok {
		s.Pool.Release()
	}
}

func (r *Router) RemoveTransactions(ids []string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	removed := 0
	for _, s := range r.shards {
		removed += s.Pool.RemoveTransactions(ids)
	}
	return removed
}

func (r *Router) PruneStale(watermarks map[string]uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	removed := 0
	for _, s := range r.shards {
		removed += s.Pool.PruneStale(watermarks)
	}
	return removed
}

// ShardIDs returns the active shard ids in ascending order.
func (r *Router) ShardIDs() []types.ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ShardID(nil), r.order...)
}

func (r *Router) ShardCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Router) pendingLocked() int {
	n := 0
	for _, s := range r.shards {
		n += s.Pool.Size()
	}
	return n
}

// PendingCount is the number of pending transactions across all shards.
func (r *Router) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pendingLocked()
}

// PendingByShard reports the pool size of every active shard.
func (r *Router) PendingByShard() map[types.ShardID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[types.ShardID]int, len(r.shards))
	for id, s := range r.shards {
		out[id] = s.Pool.Size()
	}
	return out
}

// Rebalance resizes the router to n shards. New shards start empty and get fresh ids;
// surviving shards keep their pools. Retired shards are the highest ids, and each hands
// its whole pool to the single survivor the new ring assigns its key to. On error the
// map is left as it was.
func (r *Router) Rebalance(n int) error {
	ids, changed, err := r.rebalance(n)
	if err != nil {
		return err
	}
	if changed {
		r.notify(ids)
	}
	return nil
}

func (r *Router) rebalance(n int) ([]types.ShardID, bool, error) {
	if n < 1 {
		return nil, false, errors.Wrapf(types.ErrRouting, "cannot rebalance to %d shards", n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := len(r.order)
	if n == current {
		return nil, false, nil
	}

	next := make(map[types.ShardID]*Shard, n)
	nextID := r.nextID
	var retired []*Shard
	if n > current {
		for id, s := range r.shards {
			next[id] = s
		}
		for i := current; i < n; i++ {
			next[nextID] = newShard(nextID)
			nextID++
		}
	} else {
		for i, id := range r.order {
			if i < n {
				next[id] = r.shards[id]
			} else {
				retired = append(retired, r.shards[id])
			}
		}
	}

	ring := newRing(next)
	successors := make(map[types.ShardID]*Shard, len(retired))
	for _, s := range retired {
		member, err := ring.Get(s.Key)
		if err != nil {
			return nil, false, errors.Wrapf(types.ErrRouting, "no successor for %s: %v", s.ID, err)
		}
		var dst *Shard
		for _, candidate := range next {
			if candidate.Key == member {
				dst = candidate
			}
		}
		if dst == nil {
			return nil, false, errors.Wrapf(types.ErrRouting, "successor %s of %s is not active", member, s.ID)
		}
		successors[s.ID] = dst
	}

	layout := shardMap{Strategy: r.strategy, NextID: nextID}
	for id := range next {
		layout.Shards = append(layout.Shards, id)
	}
	sort.Slice(layout.Shards, func(i, j int) bool { return layout.Shards[i] < layout.Shards[j] })
	if err := r.saveMap(layout); err != nil {
		return nil, false, err
	}

	before := r.pendingLocked()
	moved := 0
	for _, s := range retired {
		dst := successors[s.ID]
		moved += chain.MovePending(s.Pool, dst.Pool, s.ID < dst.ID)
		r.logger.Debug("retired shard handed off",
			zap.Stringer("shard", s.ID),
			zap.Stringer("successor", dst.ID))
	}
	r.install(next, nextID)
	if after := r.pendingLocked(); after != before {
		r.logger.Error("pending count changed during rebalance",
			zap.Int("before", before),
			zap.Int("after", after))
	}

	r.logger.Info("shards rebalanced",
		zap.Int("from", current),
		zap.Int("to", n),
		zap.Int("moved", moved))
	return append([]types.ShardID(nil), r.order...), true, nil
}
