package node

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// runShard is the production loop of one shard. Every tick it advances the round clock
// and, when a local authority holds the turn, turns the shard's pending transactions
// into a block. Failures are logged and retried on the next tick.
func (n *Node) runShard(ctx context.Context, shard types.ShardID) error {
	ticker := n.clock.Ticker(n.cfg.ProduceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b, err := n.produce(shard)
			switch {
			case err == nil && b != nil:
				n.logger.Debug("block produced",
					zap.Stringer("shard", shard),
					zap.Uint64("height", b.Header.Height),
					zap.Int("transactions", len(b.Transactions)))
			case errors.Is(err, types.ErrStaleBlock):
				// Another shard committed this height first.
			case err != nil:
				n.logger.Warn("block production failed", zap.Stringer("shard", shard), zap.Error(err))
			}
		}
	}
}

// produce runs one production round on shard. It returns a nil block when there is
// nothing to do: no local authority holds the turn, the shard is empty, or another
// assembly is in flight.
func (n *Node) produce(shard types.ShardID) (*types.Block, error) {
	tip, err := n.ledger.GetLatestBlock()
	if err != nil {
		return nil, err
	}
	height := tip.Header.Height + 1
	n.engine.Observe(height, n.router.PendingCount() > 0)

	signer := n.localProducer(height)
	if signer == nil {
		return nil, nil
	}

	txs, err := n.ledger.ReservePending(shard, n.cfg.MaxTxPerBlock)
	if errors.Is(err, types.ErrAssemblyInFlight) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer n.ledger.ReleasePending(shard)
	if len(txs) == 0 {
		return nil, nil
	}

	b, err := n.engine.ProduceBlock(signer, tip, txs, shard)
	if err != nil {
		return nil, err
	}
	if err := n.AddBlock(b); err != nil {
		return nil, err
	}
	return b, nil
}
