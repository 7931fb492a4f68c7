package chain

import (
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// WatermarkFunc returns the highest committed nonce for sender, if any.
type WatermarkFunc func(sender string) (uint64, bool)

// ConsensusEngine is what the ledger needs from a consensus implementation.
type ConsensusEngine interface {
	// ValidateGenesis checks the genesis block against the engine's rules.
	ValidateGenesis(b *types.Block) error
	// ValidateBlock checks b as the successor of prev.
	ValidateBlock(b, prev *types.Block, watermark WatermarkFunc) error
	// PrepareCommit computes the engine state that results from committing b without
	// applying it.
	PrepareCommit(b *types.Block) (CommitEffect, error)
	// BlockRejected is told about every block that failed validation.
	BlockRejected(b *types.Block, reason error)
}

// CommitEffect is the engine-side half of an append: Persist adds the engine's records
// to the ledger's batch and Apply publishes the new state once the batch is durable.
type CommitEffect interface {
	Persist(batch *store.Batch) error
	Apply()
}

// PendingPools is the per-shard pending transaction storage behind the ledger.
type PendingPools interface {
	Submit(tx *types.Transaction) (types.ShardID, error)
	Pending(limit int) []*types.Transaction
	Reserve(shard types.ShardID, limit int, watermark WatermarkFunc) ([]*types.Transaction, error)
	Release(shard types.ShardID)
	RemoveTransactions(ids []string) int
	PruneStale(watermarks map[string]uint64) int
}
