package crypto

// Signer produces signatures for a single identity. Implementations must be safe for
// concurrent use.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() []byte
	// Address is the bech32 address derived from PublicKey.
	Address() string
}

// VerifyFunc checks sig over msg for the raw public key pub.
type VerifyFunc func(pub, msg, sig []byte) error
