package consensus

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Kind names a consensus variant.
type Kind uint8

const (
	KindProofOfAuthority Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case KindProofOfAuthority:
		return "proof-of-authority"
	default:
		return "unknown"
	}
}

// Engine is the capability set a consensus variant offers to the node.
type Engine interface {
	chain.ConsensusEngine

	Kind() Kind
	// ExpectedAuthority returns the authority whose turn it currently is at height.
	ExpectedAuthority(height uint64) (string, error)
	// IsAuthorized reports whether id may produce the block at height right now.
	IsAuthorized(id string, height uint64) bool
	// Observe advances the round clock for height. Time only counts towards the round
	// timeout while hasWork is true.
	Observe(height uint64, hasWork bool)
	// ProduceBlock assembles and signs the successor of prev from txs.
	ProduceBlock(signer crypto.Signer, prev *types.Block, txs []*types.Transaction, shard types.ShardID) (*types.Block, error)
	Registry() *Registry
	Schedule() []string
	// Restore loads the persisted registry. It returns false when none was stored.
	Restore(db store.Store) (bool, error)
	// Resume starts the round that follows tip.
	Resume(tip *types.Block)
}

// New builds the engine of the given kind.
func New(kind Kind, cfg Config, logger *zap.Logger, clk clock.Clock) (Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	switch kind {
	case KindProofOfAuthority:
		return newProofOfAuthority(cfg, logger.Named("poa"), clk), nil
	default:
		return nil, errors.Wrapf(types.ErrConsensus, "unsupported consensus kind %d", kind)
	}
}
