package hash

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const HashSize = 32

type Hash [HashSize]byte

// Zero is the all-zero hash used as the genesis predecessor.
var Zero Hash

func NewHash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Concat hashes the concatenation of the given hashes.
func Concat(hashes ...Hash) Hash {
	buf := make([]byte, 0, len(hashes)*HashSize)
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return NewHash(buf)
}

func FromString(str string) (Hash, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(data)
}

func FromBytes(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash should be %d bytes, but it is %d bytes", HashSize, len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Zero
}
