package chain

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// SinglePool serves every transaction from one pool as shard 0. It backs unsharded
// nodes and tooling that replays a chain.
type SinglePool struct {
	pool *TxPool
	seq  atomic.Uint64
}

var _ PendingPools = (*SinglePool)(nil)

func NewSinglePool() *SinglePool {
	return &SinglePool{pool: NewTxPool()}
}

func (s *SinglePool) Submit(tx *types.Transaction) (types.ShardID, error) {
	return 0, s.pool.AddTransaction(tx, s.seq.Add(1))
}

// Pending returns up to limit pending transactions in block order.
func (s *SinglePool) Pending(limit int) []*types.Transaction {
	entries := s.pool.Entries(0)
	txs := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = e.Tx
	}
	txs = OrderTransactions(txs)
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}

func (s *SinglePool) Reserve(shard types.ShardID, limit int, watermark WatermarkFunc) ([]*types.Transaction, error) {
	if shard != 0 {
		return nil, errors.Wrapf(types.ErrRouting, "unknown %s", shard)
	}
	return s.pool.Reserve(limit, watermark)
}

func (s *SinglePool) Release(shard types.ShardID) {
	if shard == 0 {
		s.pool.Release()
	}
}

func (s *SinglePool) RemoveTransactions(ids []string) int {
	return s.pool.RemoveTransactions(ids)
}

func (s *SinglePool) PruneStale(watermarks map[string]uint64) int {
	return s.pool.PruneStale(watermarks)
}

func (s *SinglePool) Size() int {
	return s.pool.Size()
}
