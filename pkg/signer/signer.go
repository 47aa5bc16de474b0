// Package signer signs oracle observations and aggregates with the node key.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Supported algorithms.
const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

var (
	// ErrUnsupportedAlgorithm indicates an unknown algorithm name.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	// ErrNoSeed indicates that no seed is configured and ephemeral keys are not allowed.
	ErrNoSeed = errors.New("signing seed not set")
	// ErrInvalidSeed indicates a seed that is not 32 hex-encoded bytes.
	ErrInvalidSeed = errors.New("signing seed must be 32 bytes hex")
	// ErrInvalidSignature indicates a signature that does not verify.
	ErrInvalidSignature = errors.New("signature invalid")
)

// SeedSize is the length of a signing seed in bytes.
const SeedSize = 32

// Signer produces base64 signatures over sha256(message).
type Signer interface {
	Algorithm() string
	PublicKey() string // base64
	Sign(message []byte) (string, error)
}

// New derives a signer for alg from seed.
func New(alg string, seed []byte) (Signer, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	switch strings.ToLower(alg) {
	case "", AlgEd25519:
		return &ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
	case AlgDilithium3:
		var s [mode3.SeedSize]byte
		copy(s[:], seed)
		pk, sk := mode3.NewKeyFromSeed(&s)
		return &dilithiumSigner{pub: pk, key: sk}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// FromEnv reads a hex seed from the named environment variable. When the variable is
// empty and ephemeral is set, a random key is generated.
func FromEnv(alg, envName string, ephemeral bool) (Signer, error) {
	raw := strings.TrimSpace(os.Getenv(envName))
	if raw == "" {
		if !ephemeral {
			return nil, fmt.Errorf("%w: %s", ErrNoSeed, envName)
		}
		seed := make([]byte, SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generate seed: %w", err)
		}
		return New(alg, seed)
	}

	seed, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return New(alg, seed)
}

// Verify checks a signature produced by a Signer.
func Verify(alg, publicKey string, message []byte, signature string) error {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(message)

	switch strings.ToLower(alg) {
	case "", AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return errors.New("invalid ed25519 public key length")
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
			return ErrInvalidSignature
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("invalid dilithium3 public key: %w", err)
		}
		if len(sig) != mode3.SignatureSize || !mode3.Verify(&pk, digest[:], sig) {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return nil
}

type ed25519Signer struct {
	key ed25519.PrivateKey
}

func (s *ed25519Signer) Algorithm() string { return AlgEd25519 }

func (s *ed25519Signer) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

func (s *ed25519Signer) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, digest[:])), nil
}

type dilithiumSigner struct {
	pub *mode3.PublicKey
	key *mode3.PrivateKey
}

func (s *dilithiumSigner) Algorithm() string { return AlgDilithium3 }

func (s *dilithiumSigner) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.pub.Bytes())
}

func (s *dilithiumSigner) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.key, digest[:], sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}
