package chain

import (
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/address"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// detEncMode produces canonical CBOR so that hashes and signatures are pure functions
// of the encoded value.
var detEncMode = mustDetEncMode()

func mustDetEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// SigningBytes returns the canonical encoding of tx without its signature.
func SigningBytes(tx *types.Transaction) ([]byte, error) {
	unsigned := *tx
	unsigned.Signature = nil
	data, err := detEncMode.Marshal(&unsigned)
	if err != nil {
		return nil, errors.Wrap(err, "encode transaction for signing")
	}
	return data, nil
}

// TransactionHash commits to every field of tx, signature included.
func TransactionHash(tx *types.Transaction) (hash.Hash, error) {
	data, err := detEncMode.Marshal(tx)
	if err != nil {
		return hash.Hash{}, errors.Wrap(err, "encode transaction")
	}
	return hash.NewHash(data), nil
}

// SignTransaction binds tx to signer and signs it.
func SignTransaction(tx *types.Transaction, signer crypto.Signer) error {
	tx.Sender = signer.Address()
	tx.SenderPublicKey = signer.PublicKey()

	msg, err := SigningBytes(tx)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return errors.Wrap(err, "sign transaction")
	}
	tx.Signature = sig
	return nil
}

// NewTransaction builds and signs a transaction with a fresh UUIDv4 id.
func NewTransaction(signer crypto.Signer, receiver string, payload types.Payload, fee amount.Amount, nonce uint64, now time.Time) (*types.Transaction, error) {
	tx := &types.Transaction{
		ID:        uuid.NewString(),
		Receiver:  receiver,
		Payload:   payload,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: now.UnixMilli(),
	}
	if err := SignTransaction(tx, signer); err != nil {
		return nil, err
	}
	return tx, nil
}

func invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(types.ErrValidation, format, args...)
}

// ValidateTransaction checks that tx is well formed, that its sender address is derived
// from the embedded public key and that the signature verifies. Nonce ordering is a
// ledger concern and is not checked here.
func ValidateTransaction(tx *types.Transaction) error {
	if tx == nil {
		return invalidf("nil transaction")
	}
	if !govalidator.IsUUIDv4(tx.ID) {
		return invalidf("transaction id %q is not a UUIDv4", tx.ID)
	}
	if tx.Sender == "" || !address.Validate(tx.Sender) {
		return invalidf("transaction %s: invalid sender %q", tx.ID, tx.Sender)
	}
	if tx.Receiver != "" && !address.Validate(tx.Receiver) {
		return invalidf("transaction %s: invalid receiver %q", tx.ID, tx.Receiver)
	}
	if !tx.Payload.Kind.Valid() || !tx.Payload.WellFormed() {
		return invalidf("transaction %s: malformed %s payload", tx.ID, tx.Payload.Kind)
	}
	if tx.Fee < 0 {
		return invalidf("transaction %s: negative fee %d", tx.ID, tx.Fee)
	}
	if err := validatePayload(&tx.Payload); err != nil {
		return errors.Wrapf(err, "transaction %s", tx.ID)
	}

	derived, err := address.FromPublicKey(tx.SenderPublicKey)
	if err != nil || derived != tx.Sender {
		return invalidf("transaction %s: sender %s is not derived from its public key", tx.ID, tx.Sender)
	}
	msg, err := SigningBytes(tx)
	if err != nil {
		return invalidf("transaction %s: %v", tx.ID, err)
	}
	if err := crypto.Verify(tx.SenderPublicKey, msg, tx.Signature); err != nil {
		return invalidf("transaction %s: %v", tx.ID, err)
	}
	return nil
}

func validatePayload(p *types.Payload) error {
	switch p.Kind {
	case types.PayloadEnergyTrade:
		t := p.Trade
		if !t.Amount.IsPositive() {
			return invalidf("energy amount must be positive, got %s", t.Amount)
		}
		if !t.Price.IsPositive() {
			return invalidf("energy price must be positive, got %s", t.Price)
		}
		if !t.Source.Valid() {
			return invalidf("unknown energy source %d", t.Source)
		}
		if !t.OrderType.Valid() {
			return invalidf("unknown order type %d", t.OrderType)
		}
		if !t.Location.Region.Valid() {
			return invalidf("unknown grid region %d", t.Location.Region)
		}
	case types.PayloadGovernanceProposal:
		if p.Proposal.Title == "" {
			return invalidf("governance proposal needs a title")
		}
	case types.PayloadValidatorStake:
		if !p.Stake.Amount.IsPositive() {
			return invalidf("stake amount must be positive, got %s", p.Stake.Amount)
		}
	case types.PayloadGenesisMint:
		if !p.Mint.Amount.IsPositive() {
			return invalidf("mint amount must be positive, got %s", p.Mint.Amount)
		}
	case types.PayloadAuthorityRegistration:
		r := p.Registration
		if r.Name == "" {
			return invalidf("authority registration needs a name")
		}
		if !r.Category.Valid() {
			return invalidf("unknown authority category %d", r.Category)
		}
		if r.Stake < 0 {
			return invalidf("authority stake must not be negative")
		}
	}
	return nil
}
