package signer

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
)

// ErrBadSignature reports a signature block that does not match its payload.
var ErrBadSignature = errors.New("signer: signature verification failed")

// Verify checks block against the bytes that should have been signed.
func Verify(block domain.SignatureBlock, payload []byte, pub ed25519.PublicKey) error {
	if block.Alg != AlgEd25519 {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrBadSignature, block.Alg)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}
	if block.PayloadHash != digest.Hex(payload) {
		return fmt.Errorf("%w: payload_hash mismatch", ErrBadSignature)
	}
	signed, err := digest.DecodeBase64URL(block.SignedPayload)
	if err != nil {
		return fmt.Errorf("%w: decode signed_payload: %v", ErrBadSignature, err)
	}
	if !bytes.Equal(signed, payload) {
		return fmt.Errorf("%w: signed_payload differs from receipt", ErrBadSignature)
	}
	sig, err := digest.DecodeBase64URL(block.Sig)
	if err != nil {
		return fmt.Errorf("%w: decode sig: %v", ErrBadSignature, err)
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrBadSignature
	}
	return nil
}

// ParsePublicKey decodes a base64url Ed25519 public key. A 64-byte private
// key is also accepted and reduced to its public half.
func ParsePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := digest.DecodeBase64URL(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode public key: %v", ErrInvalidKey, err)
	}
	switch len(raw) {
	case ed25519.PublicKeySize:
		return ed25519.PublicKey(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw).Public().(ed25519.PublicKey), nil
	default:
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}
}
