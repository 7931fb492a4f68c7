package address

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
)

const (
	// AddressWords is the number of 5-bit words in the data part of the address:
	// 20 hash bytes -> 160 bits / 5 bits per word.
	AddressWords = 32
	AddressHRP   = "gx"
)

// Address holds the 5-bit words of the bech32 data part.
type Address [AddressWords]byte

// New derives an Address from raw public key bytes.
func New(pubKey []byte) (*Address, error) {
	digest := hash.NewHash(pubKey)

	words, err := bech32.ConvertBits(digest[:20], 8, 5, true)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key hash to 5-bit words: %v", err)
	}
	if len(words) != AddressWords {
		return nil, fmt.Errorf("unexpected number of words after conversion: got %d, want %d", len(words), AddressWords)
	}

	var addr Address
	copy(addr[:], words)
	return &addr, nil
}

// FromPublicKey returns the bech32 string address for a public key.
func FromPublicKey(pubKey []byte) (string, error) {
	addr, err := New(pubKey)
	if err != nil {
		return "", err
	}
	return addr.Encode()
}

// Validate checks if a string is a bech32 address with the right HRP and data length.
func Validate(addr string) bool {
	_, err := FromString(addr)
	return err == nil
}

func FromString(addr string) (*Address, error) {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bech32 address '%s': %v", addr, err)
	}
	if hrp != AddressHRP {
		return nil, fmt.Errorf("invalid address HRP: expected '%s', got '%s'", AddressHRP, hrp)
	}
	if len(words) != AddressWords {
		return nil, fmt.Errorf("invalid decoded data length: expected %d words, got %d", AddressWords, len(words))
	}

	var out Address
	copy(out[:], words)
	return &out, nil
}

func (a *Address) Bytes() []byte {
	return a[:]
}

func (a *Address) Encode() (string, error) {
	return bech32.Encode(AddressHRP, a.Bytes())
}

func (a *Address) String() string {
	s, err := a.Encode()
	if err != nil {
		return ""
	}
	return s
}
