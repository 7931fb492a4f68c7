package store

import (
	"encoding/binary"
)

// Storage prefixes
const (
	BlockHeightPrefix  = "bh-"
	BlockHashPrefix    = "bx-"
	NoncePrefix        = "nc-"
	TransactionPrefix  = "tx-"
	AuthorityKeyPrefix = "ak-"

	TipKey          = "mt-tip"
	RegistryKey     = "ar-registry"
	ShardMapKey     = "sm-shards"
	ScalingStateKey = "sc-state"
)

// BlockHeightKey encodes the height big-endian so prefix iteration walks blocks in
// height order.
func BlockHeightKey(height uint64) []byte {
	key := make([]byte, len(BlockHeightPrefix)+8)
	copy(key, BlockHeightPrefix)
	binary.BigEndian.PutUint64(key[len(BlockHeightPrefix):], height)
	return key
}

func BlockHashKey(hash []byte) []byte {
	return append([]byte(BlockHashPrefix), hash...)
}

func NonceKey(sender string) []byte {
	return []byte(NoncePrefix + sender)
}

func TransactionKey(id string) []byte {
	return []byte(TransactionPrefix + id)
}

func AuthorityKeyKey(addr string) []byte {
	return []byte(AuthorityKeyPrefix + addr)
}
