package node

import (
	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// NextNonce is one past the highest nonce sender has committed or queued.
func (n *Node) NextNonce(sender string) uint64 {
	next, _ := n.ledger.GetNonce(sender)
	for _, tx := range n.ledger.GetPendingTransactions(0) {
		if tx.Sender == sender && tx.Nonce > next {
			next = tx.Nonce
		}
	}
	return next + 1
}

// StakeAsAuthority submits a ValidatorStake transaction signed with the local key of
// addr. Stake raises the authority's weight in the production schedule once committed.
func (n *Node) StakeAsAuthority(addr string, stake, fee amount.Amount) (*types.Transaction, error) {
	signer, ok := n.keys.GetKey(addr)
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "no local key for %s", addr)
	}
	if !n.IsActiveAuthority(addr) {
		return nil, errors.Wrapf(types.ErrConsensus, "%s is not an active authority", addr)
	}
	payload := types.NewValidatorStakePayload(types.ValidatorStake{Amount: stake})
	return n.submitSigned(signer, payload, fee)
}

// RegisterAuthority stores signer locally and submits its registration. The authority
// joins the schedule when the registration is committed.
func (n *Node) RegisterAuthority(signer crypto.Signer, reg types.AuthorityRegistration, fee amount.Amount) (*types.Transaction, error) {
	if _, ok := n.engine.Registry().Get(signer.Address()); ok {
		return nil, errors.Wrapf(types.ErrConsensus, "%s is already registered", signer.Address())
	}
	if err := n.keys.StoreKey(signer); err != nil {
		return nil, err
	}
	return n.submitSigned(signer, types.NewAuthorityRegistrationPayload(reg), fee)
}

func (n *Node) submitSigned(signer crypto.Signer, payload types.Payload, fee amount.Amount) (*types.Transaction, error) {
	tx, err := chain.NewTransaction(signer, "", payload, fee, n.NextNonce(signer.Address()), n.clock.Now())
	if err != nil {
		return nil, err
	}
	if _, err := n.SubmitTransaction(tx); err != nil {
		return nil, err
	}
	return tx, nil
}
