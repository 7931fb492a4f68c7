package state

import (
	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Strategy selects the routing key of a transaction.
type Strategy uint8

const (
	// StrategyGeographic routes energy trades by grid region.
	StrategyGeographic Strategy = iota + 1
	// StrategyFunctional routes by transaction category.
	StrategyFunctional
	// StrategyHybrid routes by the (region, category) pair.
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyGeographic:
		return "geographic"
	case StrategyFunctional:
		return "functional"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

func (s Strategy) Valid() bool {
	return s >= StrategyGeographic && s <= StrategyHybrid
}

func ParseStrategy(name string) (Strategy, error) {
	for _, s := range []Strategy{StrategyGeographic, StrategyFunctional, StrategyHybrid} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, errors.Wrapf(types.ErrRouting, "unknown routing strategy %q", name)
}

// Function is the category a transaction belongs to for functional routing.
func Function(tx *types.Transaction) string {
	switch tx.Payload.Kind {
	case types.PayloadEnergyTrade:
		return "energy_trading"
	case types.PayloadGovernanceProposal:
		return "governance"
	case types.PayloadValidatorStake, types.PayloadAuthorityRegistration:
		return "authority"
	case types.PayloadGenesisMint:
		return "treasury"
	default:
		return "other"
	}
}

// RoutingKey is the string a transaction is placed on the ring by. Transactions without
// a grid location fall back to their sender.
func RoutingKey(tx *types.Transaction, s Strategy) string {
	region := ""
	if tx.Payload.Kind == types.PayloadEnergyTrade && tx.Payload.Trade != nil {
		region = tx.Payload.Trade.Location.Region.String()
	}
	switch s {
	case StrategyGeographic:
		if region != "" {
			return "region:" + region
		}
		return "sender:" + tx.Sender
	case StrategyFunctional:
		return "function:" + Function(tx)
	default:
		if region != "" {
			return "region:" + region + "/function:" + Function(tx)
		}
		return "sender:" + tx.Sender + "/function:" + Function(tx)
	}
}

// Shard is one partition of pending transactions. Key is its member name on the ring.
type Shard struct {
	ID   types.ShardID
	Key  string
	Pool *chain.TxPool
}

func newShard(id types.ShardID) *Shard {
	return &Shard{ID: id, Key: id.String(), Pool: chain.NewTxPool()}
}
