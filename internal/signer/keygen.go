package signer

import (
	"crypto/ed25519"
	"io"

	"github.com/vburojevic/valet/internal/digest"
)

// KeyPair is freshly generated key material in the encodings FromEnv and
// ParsePublicKey expect.
type KeyPair struct {
	KeyID      string `json:"key_id"`
	PrivateKey string `json:"private_key_b64"` // 32-byte seed, base64url
	PublicKey  string `json:"public_key_b64"`
}

// Generate creates a new Ed25519 key pair from random.
func Generate(keyID string, random io.Reader) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: digest.EncodeBase64URL(priv.Seed()),
		PublicKey:  digest.EncodeBase64URL(pub),
	}, nil
}
