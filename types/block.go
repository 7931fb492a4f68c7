package types

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
)

// BlockHeader carries everything the block hash commits to. TxRoot binds the ordered
// transaction list into the header.
type BlockHeader struct {
	Height    uint64    `cbor:"1,keyasint"`
	PrevHash  hash.Hash `cbor:"2,keyasint"`
	TxRoot    hash.Hash `cbor:"3,keyasint"`
	Timestamp int64     `cbor:"4,keyasint"`
	Producer  string    `cbor:"5,keyasint"`
	ShardID   ShardID   `cbor:"6,keyasint"`
}

type Block struct {
	Header       BlockHeader    `cbor:"1,keyasint"`
	Hash         hash.Hash      `cbor:"2,keyasint"`
	Transactions []*Transaction `cbor:"3,keyasint"`
	Signature    []byte         `cbor:"4,keyasint,omitempty"`
}

func (b *Block) Marshal() ([]byte, error) {
	return cbor.Marshal(b)
}

func (b *Block) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, b)
}

func (b *Block) Height() uint64 {
	return b.Header.Height
}

// TransactionIDs returns the ids of the block's transactions in block order.
func (b *Block) TransactionIDs() []string {
	ids := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// MaxNonces returns the highest nonce per sender among the block's transactions.
func (b *Block) MaxNonces() map[string]uint64 {
	out := make(map[string]uint64)
	for _, tx := range b.Transactions {
		if n, ok := out[tx.Sender]; !ok || tx.Nonce > n {
			out[tx.Sender] = tx.Nonce
		}
	}
	return out
}
