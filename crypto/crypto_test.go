package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/address"
)

func TestKeyGeneration(t *testing.T) {
	signer, err := NewPrivateKey()
	require.NoError(t, err)
	require.NotNil(t, signer)

	assert.NotEmpty(t, signer.PublicKey())
	assert.True(t, address.Validate(signer.Address()))
}

func TestSigningAndVerification(t *testing.T) {
	signer, err := NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("energy trade 42 kWh")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, Verify(signer.PublicKey(), msg, sig))
	assert.ErrorIs(t, Verify(signer.PublicKey(), []byte("energy trade 43 kWh"), sig), ErrInvalidSignature)
	assert.Error(t, Verify(signer.PublicKey(), msg, sig[:10]))
}

func TestVerifyWrongKey(t *testing.T) {
	a, err := NewPrivateKey()
	require.NoError(t, err)
	b, err := NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("block")
	sig, err := a.Sign(msg)
	require.NoError(t, err)
	assert.Error(t, Verify(b.PublicKey(), msg, sig))
}

func TestSeededKeysAreDeterministic(t *testing.T) {
	var seed [SeedSize]byte
	seed[0] = 7

	a, err := NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)
	b, err := NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.Equal(t, a.Address(), b.Address())

	seed[0] = 8
	c, err := NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), c.Address())
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	signer, err := NewPrivateKey()
	require.NoError(t, err)

	packed, err := PrivateKeyBytes(signer)
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(packed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), restored.Address())

	msg := []byte("restored")
	sig, err := restored.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, Verify(signer.PublicKey(), msg, sig))
}
