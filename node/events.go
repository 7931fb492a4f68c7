package node

import (
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Topics published on the node event bus for the peer layer.
const (
	TopicBlockCommitted   = "block:committed"
	TopicBlockRejected    = "block:rejected"
	TopicChainResync      = "chain:resync"
	TopicShardsRebalanced = "shards:rebalanced"
)

// BlockCommitted is published after a block becomes the new tip.
type BlockCommitted struct {
	Block *types.Block
}

// BlockRejected is published for every block AddBlock refused.
type BlockRejected struct {
	Block  *types.Block
	Reason error
}

// ResyncNeeded asks the peer layer for the blocks between the local tip and a block
// that arrived ahead of it.
type ResyncNeeded struct {
	From uint64
	To   uint64
}

type ShardsRebalanced struct {
	Shards []types.ShardID
}
