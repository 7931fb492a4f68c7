package types

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
)

// Transaction defines the structure for ledger transactions. The signature covers every
// field except Signature itself.
type Transaction struct {
	ID              string        `cbor:"1,keyasint"`
	Sender          string        `cbor:"2,keyasint"`
	Receiver        string        `cbor:"3,keyasint,omitempty"`
	SenderPublicKey []byte        `cbor:"4,keyasint"`
	Payload         Payload       `cbor:"5,keyasint"`
	Fee             amount.Amount `cbor:"6,keyasint"`
	Nonce           uint64        `cbor:"7,keyasint"`
	Timestamp       int64         `cbor:"8,keyasint"`
	Signature       []byte        `cbor:"9,keyasint,omitempty"`
}

// Marshal serializes the transaction into CBOR format
func (tx *Transaction) Marshal() ([]byte, error) {
	return cbor.Marshal(tx)
}

// Unmarshal deserializes the transaction from CBOR format
func (tx *Transaction) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, tx)
}

// PayloadKind tags the variant carried by a transaction.
type PayloadKind uint8

const (
	PayloadEnergyTrade PayloadKind = iota + 1
	PayloadGovernanceProposal
	PayloadValidatorStake
	PayloadGenesisMint
	PayloadAuthorityRegistration
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadEnergyTrade:
		return "energy_trade"
	case PayloadGovernanceProposal:
		return "governance_proposal"
	case PayloadValidatorStake:
		return "validator_stake"
	case PayloadGenesisMint:
		return "genesis_mint"
	case PayloadAuthorityRegistration:
		return "authority_registration"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the known payload kinds.
func (k PayloadKind) Valid() bool {
	return k >= PayloadEnergyTrade && k <= PayloadAuthorityRegistration
}

// Payload is a closed tagged union: Kind selects exactly one non-nil body.
type Payload struct {
	Kind         PayloadKind            `cbor:"1,keyasint"`
	Trade        *EnergyTrade           `cbor:"2,keyasint,omitempty"`
	Proposal     *GovernanceProposal    `cbor:"3,keyasint,omitempty"`
	Stake        *ValidatorStake        `cbor:"4,keyasint,omitempty"`
	Mint         *GenesisMint           `cbor:"5,keyasint,omitempty"`
	Registration *AuthorityRegistration `cbor:"6,keyasint,omitempty"`
}

func NewEnergyTradePayload(t EnergyTrade) Payload {
	return Payload{Kind: PayloadEnergyTrade, Trade: &t}
}

func NewGovernanceProposalPayload(p GovernanceProposal) Payload {
	return Payload{Kind: PayloadGovernanceProposal, Proposal: &p}
}

func NewValidatorStakePayload(s ValidatorStake) Payload {
	return Payload{Kind: PayloadValidatorStake, Stake: &s}
}

func NewGenesisMintPayload(m GenesisMint) Payload {
	return Payload{Kind: PayloadGenesisMint, Mint: &m}
}

func NewAuthorityRegistrationPayload(r AuthorityRegistration) Payload {
	return Payload{Kind: PayloadAuthorityRegistration, Registration: &r}
}

// bodies counts the non-nil variant bodies.
func (p Payload) bodies() int {
	n := 0
	if p.Trade != nil {
		n++
	}
	if p.Proposal != nil {
		n++
	}
	if p.Stake != nil {
		n++
	}
	if p.Mint != nil {
		n++
	}
	if p.Registration != nil {
		n++
	}
	return n
}

// WellFormed reports whether exactly the body selected by Kind is present.
func (p Payload) WellFormed() bool {
	if p.bodies() != 1 {
		return false
	}
	switch p.Kind {
	case PayloadEnergyTrade:
		return p.Trade != nil
	case PayloadGovernanceProposal:
		return p.Proposal != nil
	case PayloadValidatorStake:
		return p.Stake != nil
	case PayloadGenesisMint:
		return p.Mint != nil
	case PayloadAuthorityRegistration:
		return p.Registration != nil
	default:
		return false
	}
}

type GovernanceProposal struct {
	Title string `cbor:"1,keyasint"`
	Text  string `cbor:"2,keyasint"`
}

type ValidatorStake struct {
	Amount amount.Amount `cbor:"1,keyasint"`
}

type GenesisMint struct {
	Amount amount.Amount `cbor:"1,keyasint"`
	Memo   string        `cbor:"2,keyasint,omitempty"`
}

// AuthorityRegistration enrols the transaction sender as a block-producing authority.
// The sender's public key becomes the authority's verification key.
type AuthorityRegistration struct {
	Name        string            `cbor:"1,keyasint"`
	Description string            `cbor:"2,keyasint,omitempty"`
	Category    AuthorityCategory `cbor:"3,keyasint"`
	Stake       amount.Amount     `cbor:"4,keyasint"`
}
