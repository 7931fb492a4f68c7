package chain

import (
	"time"

	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/utils"
)

// ComputeTxRoot returns the Merkle root over the hashes of txs in block order.
func ComputeTxRoot(txs []*types.Transaction) (hash.Hash, error) {
	leaves := make([]hash.Hash, 0, len(txs))
	for _, tx := range txs {
		h, err := TransactionHash(tx)
		if err != nil {
			return hash.Hash{}, err
		}
		leaves = append(leaves, h)
	}
	return utils.ComputeMerkleRoot(leaves), nil
}

// ComputeBlockHash hashes the header with a TxRoot recomputed from the block's
// transactions, so the result depends only on the header fields and the ordered
// transaction list.
func ComputeBlockHash(b *types.Block) (hash.Hash, error) {
	root, err := ComputeTxRoot(b.Transactions)
	if err != nil {
		return hash.Hash{}, err
	}
	header := b.Header
	header.TxRoot = root

	data, err := detEncMode.Marshal(&header)
	if err != nil {
		return hash.Hash{}, errors.Wrap(err, "encode block header")
	}
	return hash.NewHash(data), nil
}

// sealBlock fills in TxRoot and Hash.
func sealBlock(b *types.Block) error {
	root, err := ComputeTxRoot(b.Transactions)
	if err != nil {
		return err
	}
	b.Header.TxRoot = root
	h, err := ComputeBlockHash(b)
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// VerifyBlockHash checks both the stored TxRoot and the stored hash.
func VerifyBlockHash(b *types.Block) error {
	root, err := ComputeTxRoot(b.Transactions)
	if err != nil {
		return invalidf("block %d: %v", b.Header.Height, err)
	}
	if root != b.Header.TxRoot {
		return invalidf("block %d: tx root mismatch", b.Header.Height)
	}
	h, err := ComputeBlockHash(b)
	if err != nil {
		return invalidf("block %d: %v", b.Header.Height, err)
	}
	if h != b.Hash {
		return invalidf("block %d: hash mismatch: stored %s, computed %s", b.Header.Height, b.Hash, h)
	}
	return nil
}

// SignBlock signs the block hash. The signer must be the block's producer.
func SignBlock(b *types.Block, signer crypto.Signer) error {
	if b.Header.Producer != signer.Address() {
		return invalidf("block %d produced by %s cannot be signed by %s", b.Header.Height, b.Header.Producer, signer.Address())
	}
	sig, err := signer.Sign(b.Hash.Bytes())
	if err != nil {
		return errors.Wrap(err, "sign block")
	}
	b.Signature = sig
	return nil
}

// VerifyBlockSignature checks the producer signature over the block hash.
func VerifyBlockSignature(b *types.Block, producerKey []byte) error {
	if len(b.Signature) == 0 {
		return invalidf("block %d is unsigned", b.Header.Height)
	}
	if err := crypto.Verify(producerKey, b.Hash.Bytes(), b.Signature); err != nil {
		return invalidf("block %d: %v", b.Header.Height, err)
	}
	return nil
}

func genesisPayload(kind types.PayloadKind) bool {
	return kind == types.PayloadGenesisMint || kind == types.PayloadAuthorityRegistration
}

// NewGenesisBlock creates the unsigned height-0 block. Only GenesisMint and
// AuthorityRegistration transactions are accepted; they keep the given order.
func NewGenesisBlock(txs []*types.Transaction, now time.Time) (*types.Block, error) {
	for _, tx := range txs {
		if !genesisPayload(tx.Payload.Kind) {
			return nil, invalidf("genesis block cannot carry %s transaction %s", tx.Payload.Kind, tx.ID)
		}
	}
	b := &types.Block{
		Header: types.BlockHeader{
			Height:    0,
			PrevHash:  hash.Zero,
			Timestamp: now.UnixMilli(),
		},
		Transactions: txs,
	}
	if err := sealBlock(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidateGenesisBlock checks the structural rules of a genesis block and every
// transaction in it.
func ValidateGenesisBlock(b *types.Block) error {
	if b == nil {
		return invalidf("nil genesis block")
	}
	if b.Header.Height != 0 {
		return invalidf("genesis block must have height 0, got %d", b.Header.Height)
	}
	if !b.Header.PrevHash.IsZero() {
		return invalidf("genesis block must have a zero previous hash")
	}
	if b.Header.Producer != "" || len(b.Signature) != 0 {
		return invalidf("genesis block must be unsigned")
	}

	ids := make(map[string]struct{}, len(b.Transactions))
	nonces := make(map[senderNonce]struct{}, len(b.Transactions))
	for _, tx := range b.Transactions {
		if tx == nil {
			return invalidf("genesis block contains a nil transaction")
		}
		if !genesisPayload(tx.Payload.Kind) {
			return invalidf("genesis block cannot carry %s transaction %s", tx.Payload.Kind, tx.ID)
		}
		if err := ValidateTransaction(tx); err != nil {
			return err
		}
		if _, dup := ids[tx.ID]; dup {
			return invalidf("genesis block repeats transaction %s", tx.ID)
		}
		ids[tx.ID] = struct{}{}
		key := senderNonce{tx.Sender, tx.Nonce}
		if _, dup := nonces[key]; dup {
			return invalidf("genesis block repeats nonce %d for %s", tx.Nonce, tx.Sender)
		}
		nonces[key] = struct{}{}
	}
	return VerifyBlockHash(b)
}

type senderNonce struct {
	sender string
	nonce  uint64
}
