package signer

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = bytes.Repeat([]byte{0x42}, SeedSize)

func TestSignVerify(t *testing.T) {
	for _, alg := range []string{AlgEd25519, AlgDilithium3} {
		t.Run(alg, func(t *testing.T) {
			s, err := New(alg, testSeed)
			require.NoError(t, err)
			assert.Equal(t, alg, s.Algorithm())

			msg := []byte("1005000000000")
			sig, err := s.Sign(msg)
			require.NoError(t, err)

			require.NoError(t, Verify(alg, s.PublicKey(), msg, sig))
			assert.ErrorIs(t, Verify(alg, s.PublicKey(), []byte("1005000000001"), sig), ErrInvalidSignature)
		})
	}
}

func TestNew_Deterministic(t *testing.T) {
	a, err := New(AlgEd25519, testSeed)
	require.NoError(t, err)
	b, err := New(AlgEd25519, testSeed)
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(AlgEd25519, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = New("rsa", testSeed)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TEST_SIGNER_SEED", "0x"+hex.EncodeToString(testSeed))
	s, err := FromEnv(AlgEd25519, "TEST_SIGNER_SEED", false)
	require.NoError(t, err)
	ref, _ := New(AlgEd25519, testSeed)
	assert.Equal(t, ref.PublicKey(), s.PublicKey())

	t.Setenv("TEST_SIGNER_SEED", "")
	_, err = FromEnv(AlgEd25519, "TEST_SIGNER_SEED", false)
	assert.ErrorIs(t, err, ErrNoSeed)

	eph, err := FromEnv(AlgEd25519, "TEST_SIGNER_SEED", true)
	require.NoError(t, err)
	assert.NotEqual(t, ref.PublicKey(), eph.PublicKey())

	t.Setenv("TEST_SIGNER_SEED", "not-hex")
	_, err = FromEnv(AlgEd25519, "TEST_SIGNER_SEED", false)
	assert.ErrorIs(t, err, ErrInvalidSeed)
}
