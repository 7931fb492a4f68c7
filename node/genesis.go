package node

import (
	"time"

	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// GenesisAuthority is one authority enrolled by the genesis block.
type GenesisAuthority struct {
	Signer   crypto.Signer
	Name     string
	Category types.AuthorityCategory
	Stake    amount.Amount
}

// BuildGenesis assembles the unsigned height-0 block: one registration per authority
// and, when supply is positive, a mint of supply to treasury.
func BuildGenesis(authorities []GenesisAuthority, treasury crypto.Signer, supply amount.Amount, now time.Time) (*types.Block, error) {
	if len(authorities) == 0 {
		return nil, errors.Wrap(types.ErrConsensus, "genesis needs at least one authority")
	}
	txs := make([]*types.Transaction, 0, len(authorities)+1)
	nonces := make(map[string]uint64)
	next := func(s crypto.Signer) uint64 {
		nonces[s.Address()]++
		return nonces[s.Address()]
	}
	for _, a := range authorities {
		reg := types.AuthorityRegistration{Name: a.Name, Category: a.Category, Stake: a.Stake}
		tx, err := chain.NewTransaction(a.Signer, "", types.NewAuthorityRegistrationPayload(reg), 0, next(a.Signer), now)
		if err != nil {
			return nil, errors.Wrapf(err, "register %s", a.Name)
		}
		txs = append(txs, tx)
	}
	if treasury != nil && supply.IsPositive() {
		mint := types.GenesisMint{Amount: supply, Memo: "initial supply"}
		tx, err := chain.NewTransaction(treasury, treasury.Address(), types.NewGenesisMintPayload(mint), 0, next(treasury), now)
		if err != nil {
			return nil, errors.Wrap(err, "mint initial supply")
		}
		txs = append(txs, tx)
	}
	return chain.NewGenesisBlock(txs, now)
}
