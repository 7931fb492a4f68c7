package crypto

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
)

var ErrInvalidSignature = errors.New("invalid signature")

var _ VerifyFunc = Verify

// Verify checks an ML-DSA-44 signature over data.
func Verify(pub, data, sig []byte) error {
	if len(sig) != mldsa44.SignatureSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, mldsa44.SignatureSize, len(sig))
	}
	pk := new(mldsa44.PublicKey)
	if err := pk.UnmarshalBinary(pub); err != nil {
		return fmt.Errorf("invalid public key: %v", err)
	}
	if !mldsa44.Verify(pk, data, nil, sig) {
		return ErrInvalidSignature
	}
	return nil
}
