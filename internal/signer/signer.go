// Package signer produces signature blocks over canonical receipt bytes.
//
// The set of signers is closed: Noop for unsigned bundles and Ed25519 for
// signed ones. Callers only ever see the Signer interface.
package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
)

// Environment variables consulted by FromEnv.
const (
	EnvKeyID      = "HALO_KEY_ID"
	EnvPrivateKey = "HALO_ED25519_PRIVATE_KEY_B64"
)

// Algorithm names written into signature blocks and issuers.
const (
	AlgNone    = "none"
	AlgEd25519 = "ed25519"
)

// NoopKeyID is the issuer key id of unsigned receipts.
const NoopKeyID = "noop"

// ErrInvalidKey reports unusable signing key material.
var ErrInvalidKey = errors.New("signer: invalid signing key")

// Signer signs the exact bytes it is given.
type Signer interface {
	KeyID() string
	Algorithm() string
	// Sign returns nil when the signer does not sign.
	Sign(payload []byte) (*domain.SignatureBlock, error)
}

// Noop never signs.
type Noop struct{}

func (Noop) KeyID() string     { return NoopKeyID }
func (Noop) Algorithm() string { return AlgNone }

func (Noop) Sign([]byte) (*domain.SignatureBlock, error) { return nil, nil }

// Ed25519 signs with a fixed private key.
type Ed25519 struct {
	keyID string
	key   ed25519.PrivateKey
}

// NewEd25519 builds a signer from base64url key material: either a 32-byte
// seed or a 64-byte seed||public key.
func NewEd25519(keyID, privateKeyB64 string) (*Ed25519, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, fmt.Errorf("%w: key id is required", ErrInvalidKey)
	}
	raw, err := digest.DecodeBase64URL(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode private key: %v", ErrInvalidKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		raw = raw[:ed25519.SeedSize]
	default:
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(raw))
	}
	return &Ed25519{keyID: keyID, key: ed25519.NewKeyFromSeed(raw)}, nil
}

func (s *Ed25519) KeyID() string     { return s.keyID }
func (s *Ed25519) Algorithm() string { return AlgEd25519 }

// PublicKey returns the verification key.
func (s *Ed25519) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign signs payload unchanged.
func (s *Ed25519) Sign(payload []byte) (*domain.SignatureBlock, error) {
	sig := ed25519.Sign(s.key, payload)
	return &domain.SignatureBlock{
		Alg:           AlgEd25519,
		KeyID:         s.keyID,
		Sig:           digest.EncodeBase64URL(sig),
		SignedPayload: digest.EncodeBase64URL(payload),
		PayloadHash:   digest.Hex(payload),
	}, nil
}

// New selects a signer: Ed25519 when both key id and key are set, Noop when
// either is empty. Malformed key material is an error, never a silent Noop.
func New(keyID, privateKeyB64 string) (Signer, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(privateKeyB64) == "" {
		return Noop{}, nil
	}
	s, err := NewEd25519(keyID, privateKeyB64)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FromEnv calls New with HALO_KEY_ID and HALO_ED25519_PRIVATE_KEY_B64.
func FromEnv() (Signer, error) {
	return New(os.Getenv(EnvKeyID), os.Getenv(EnvPrivateKey))
}

// PartiallyConfigured reports whether exactly one of key id and key is set.
// New treats that as unsigned; callers may want to warn about it.
func PartiallyConfigured(keyID, privateKeyB64 string) bool {
	hasID := strings.TrimSpace(keyID) != ""
	hasKey := strings.TrimSpace(privateKeyB64) != ""
	return hasID != hasKey
}
