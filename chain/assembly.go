package chain

import (
	"container/heap"
	"sort"
	"time"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// AssembleBlock builds an unsigned block from txs, which must be given in arrival order.
//
// Transactions are ordered by fee (highest first, earlier arrival on ties) while each
// sender's transactions stay in nonce order. A later duplicate id or a later duplicate
// (sender, nonce) pair is dropped. The returned block needs SignBlock before it is
// valid.
func AssembleBlock(height uint64, prevHash hash.Hash, txs []*types.Transaction, producer string, shard types.ShardID, maxTx int, now time.Time) (*types.Block, error) {
	if len(txs) > maxTx {
		return nil, invalidf("%d transactions exceed the block limit of %d", len(txs), maxTx)
	}

	b := &types.Block{
		Header: types.BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			Timestamp: now.UnixMilli(),
			Producer:  producer,
			ShardID:   shard,
		},
		Transactions: orderTransactions(txs),
	}
	if err := sealBlock(b); err != nil {
		return nil, err
	}
	return b, nil
}

type arrival struct {
	tx  *types.Transaction
	seq int
}

// OrderTransactions applies the block ordering to txs given in arrival order: highest fee
// first, earlier arrival on ties, each sender in nonce order. Later duplicates are
// dropped.
func OrderTransactions(txs []*types.Transaction) []*types.Transaction {
	return orderTransactions(txs)
}

func orderTransactions(txs []*types.Transaction) []*types.Transaction {
	ids := make(map[string]struct{}, len(txs))
	pairs := make(map[senderNonce]struct{}, len(txs))
	bySender := make(map[string][]arrival)
	for i, tx := range txs {
		if tx == nil {
			continue
		}
		if _, dup := ids[tx.ID]; dup {
			continue
		}
		key := senderNonce{tx.Sender, tx.Nonce}
		if _, dup := pairs[key]; dup {
			continue
		}
		ids[tx.ID] = struct{}{}
		pairs[key] = struct{}{}
		bySender[tx.Sender] = append(bySender[tx.Sender], arrival{tx: tx, seq: i})
	}

	h := make(feeHeap, 0, len(bySender))
	for _, queue := range bySender {
		sort.Slice(queue, func(i, j int) bool { return queue[i].tx.Nonce < queue[j].tx.Nonce })
		h = append(h, queue)
	}
	heap.Init(&h)

	out := make([]*types.Transaction, 0, len(ids))
	for h.Len() > 0 {
		queue := h[0]
		out = append(out, queue[0].tx)
		if len(queue) == 1 {
			heap.Pop(&h)
			continue
		}
		h[0] = queue[1:]
		heap.Fix(&h, 0)
	}
	return out
}

// feeHeap holds one nonce-sorted queue per sender, keyed by the queue head.
type feeHeap [][]arrival

func (h feeHeap) Len() int { return len(h) }

func (h feeHeap) Less(i, j int) bool {
	a, b := h[i][0], h[j][0]
	if a.tx.Fee != b.tx.Fee {
		return a.tx.Fee > b.tx.Fee
	}
	return a.seq < b.seq
}

func (h feeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *feeHeap) Push(x interface{}) { *h = append(*h, x.([]arrival)) }

func (h *feeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
