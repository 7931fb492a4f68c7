package types

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
)

// AuthorityCategory is the role an authority plays in the grid.
type AuthorityCategory uint8

const (
	CategoryPrimaryGenerator AuthorityCategory = iota + 1
	CategoryMetropolitanDistributor
	CategoryRegionalDistributor
	CategoryRegulator
	CategoryPowerProducer
	CategoryGridOperator
)

var AuthorityCategories = []AuthorityCategory{
	CategoryPrimaryGenerator,
	CategoryMetropolitanDistributor,
	CategoryRegionalDistributor,
	CategoryRegulator,
	CategoryPowerProducer,
	CategoryGridOperator,
}

func (c AuthorityCategory) String() string {
	switch c {
	case CategoryPrimaryGenerator:
		return "primary_generator"
	case CategoryMetropolitanDistributor:
		return "metropolitan_distributor"
	case CategoryRegionalDistributor:
		return "regional_distributor"
	case CategoryRegulator:
		return "regulator"
	case CategoryPowerProducer:
		return "power_producer"
	case CategoryGridOperator:
		return "grid_operator"
	default:
		return "unknown"
	}
}

func (c AuthorityCategory) Valid() bool {
	return c >= CategoryPrimaryGenerator && c <= CategoryGridOperator
}

// Authority is a registered block producer. ID is the bech32 address derived from
// PublicKey. Reputation stays within [0, 1].
type Authority struct {
	ID                    string            `cbor:"1,keyasint"`
	Name                  string            `cbor:"2,keyasint"`
	Description           string            `cbor:"3,keyasint,omitempty"`
	Category              AuthorityCategory `cbor:"4,keyasint"`
	PublicKey             []byte            `cbor:"5,keyasint"`
	Stake                 amount.Amount     `cbor:"6,keyasint"`
	Reputation            float64           `cbor:"7,keyasint"`
	Active                bool              `cbor:"8,keyasint"`
	BlocksProduced        uint64            `cbor:"9,keyasint"`
	BlocksMissed          uint64            `cbor:"10,keyasint"`
	ConsecutiveRejections uint32            `cbor:"11,keyasint"`
	RegisteredAt          uint64            `cbor:"12,keyasint"`
}

func (a *Authority) Marshal() ([]byte, error) {
	return cbor.Marshal(a)
}

func (a *Authority) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, a)
}

// Clone returns a deep copy safe to hand out of the registry.
func (a *Authority) Clone() *Authority {
	c := *a
	c.PublicKey = append([]byte(nil), a.PublicKey...)
	return &c
}
