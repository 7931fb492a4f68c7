package node

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// restore reloads the authority registry and then the chain, and resumes the round that
// follows the stored tip. It returns false on an empty store.
func (n *Node) restore() (bool, error) {
	registry, err := n.engine.Restore(n.db)
	if err != nil {
		return false, errors.Wrap(err, "restore authority registry")
	}
	loaded, err := n.ledger.Load()
	if err != nil {
		return false, errors.Wrap(err, "load chain")
	}
	if registry != loaded {
		return false, errors.Wrapf(types.ErrStorage, "store holds a chain (%t) and an authority registry (%t) that disagree", loaded, registry)
	}
	if !loaded {
		return false, nil
	}

	tip, err := n.ledger.GetLatestBlock()
	if err != nil {
		return false, err
	}
	n.engine.Resume(tip)
	n.logger.Info("chain restored",
		zap.Uint64("height", tip.Header.Height),
		zap.String("tip", tip.Hash.String()),
		zap.Int("authorities", n.engine.Registry().Len()))
	return true, nil
}

// Bootstrap installs genesis on an empty chain.
func (n *Node) Bootstrap(genesis *types.Block) error {
	if err := n.ledger.AddGenesisBlock(genesis); err != nil {
		return err
	}
	n.bus.Publish(TopicBlockCommitted, BlockCommitted{Block: genesis})
	return nil
}

func (n *Node) HasGenesis() bool {
	return n.ledger.HasGenesis()
}
