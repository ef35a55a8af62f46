// Package digest holds the hashing and text-encoding primitives shared by
// the recorder, the exporter and the verifier.
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/vburojevic/valet/internal/canonical"
)

// Size is the length of a raw digest in bytes.
const Size = sha256.Size

// Zero is the all-zero hex digest used as the predecessor of the first event.
var Zero = strings.Repeat("0", 2*Size)

// Sum returns the raw SHA-256 digest of b.
func Sum(b []byte) [Size]byte {
	return sha256.Sum256(b)
}

// Hex returns the lowercase hex SHA-256 digest of b.
func Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Concat hashes the concatenation of parts.
func Concat(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical hashes the canonical encoding of v.
func Canonical(v any) (string, error) {
	b, err := canonical.Encode(v)
	if err != nil {
		return "", err
	}
	return Hex(b), nil
}

// IsHex reports whether s looks like a hex digest produced by Hex.
func IsHex(s string) bool {
	if len(s) != 2*Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// EncodeBase64URL encodes b as unpadded URL-safe base64.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes URL-safe base64, restoring padding when it was
// stripped.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(s)
}
