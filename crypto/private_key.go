package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/address"
)

const SeedSize = mldsa44.SeedSize

type privateKey struct {
	privKey *mldsa44.PrivateKey
	pubKey  []byte
	addr    string
}

var _ Signer = (*privateKey)(nil)

func newPrivateKey(pk *mldsa44.PublicKey, sk *mldsa44.PrivateKey) (*privateKey, error) {
	pub := pk.Bytes()
	addr, err := address.FromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &privateKey{privKey: sk, pubKey: pub, addr: addr}, nil
}

// NewPrivateKey generates a fresh ML-DSA-44 signer.
func NewPrivateKey() (Signer, error) {
	pk, sk, err := mldsa44.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %v", err)
	}
	return newPrivateKey(pk, sk)
}

// NewPrivateKeyFromSeed derives a signer deterministically from seed.
func NewPrivateKeyFromSeed(seed [SeedSize]byte) (Signer, error) {
	pk, sk := mldsa44.NewKeyFromSeed(&seed)
	return newPrivateKey(pk, sk)
}

// PrivateKeyFromBytes restores a signer from its packed private key.
func PrivateKeyFromBytes(data []byte) (Signer, error) {
	sk := new(mldsa44.PrivateKey)
	if err := sk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key: %v", err)
	}
	pk, ok := sk.Public().(*mldsa44.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", sk.Public())
	}
	return newPrivateKey(pk, sk)
}

// PrivateKeyBytes packs the private key of a signer created by this package.
func PrivateKeyBytes(s Signer) ([]byte, error) {
	p, ok := s.(*privateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported signer type %T", s)
	}
	return p.privKey.MarshalBinary()
}

func (p *privateKey) Sign(data []byte) ([]byte, error) {
	sig := make([]byte, mldsa44.SignatureSize)
	if err := mldsa44.SignTo(p.privKey, data, nil, false, sig); err != nil {
		return nil, fmt.Errorf("failed to sign data: %v", err)
	}
	return sig, nil
}

func (p *privateKey) PublicKey() []byte {
	return append([]byte(nil), p.pubKey...)
}

func (p *privateKey) Address() string {
	return p.addr
}
