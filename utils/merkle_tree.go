package utils

import (
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
)

// ComputeMerkleRoot calculates the BLAKE2b-256 Merkle root of the given leaf hashes.
// Levels with an odd number of nodes duplicate their last node. The root of an empty
// set is the zero hash.
func ComputeMerkleRoot(leaves []hash.Hash) hash.Hash {
	if len(leaves) == 0 {
		return hash.Zero
	}

	level := make([]hash.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]hash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hash.Concat(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}
