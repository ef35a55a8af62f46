package cli

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/vburojevic/valet/internal/output"
	"github.com/vburojevic/valet/internal/signer"
)

// KeygenCmd generates an Ed25519 signing key.
type KeygenCmd struct {
	KeyID string `name:"key-id" help:"Key identifier recorded in receipts (default: random)"`
}

// keyRandom is the entropy source for keygen.
var keyRandom io.Reader = rand.Reader

// KeyOutput is the NDJSON record for a generated key.
type KeyOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	*signer.KeyPair
}

// Run executes the keygen command.
func (c *KeygenCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	keyID := c.KeyID
	if keyID == "" {
		keyID = "valet-" + uuid.NewString()[:8]
	}
	kp, err := signer.Generate(keyID, keyRandom)
	if err != nil {
		return outputFailure(globals, err, codeInvalidKey)
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(KeyOutput{
			Type:          "key",
			SchemaVersion: output.SchemaVersion,
			KeyPair:       kp,
		})
	}
	fmt.Fprintf(globals.Stdout, "Key ID:      %s\n", kp.KeyID)
	fmt.Fprintf(globals.Stdout, "Public key:  %s\n", kp.PublicKey)
	fmt.Fprintf(globals.Stdout, "Private key: %s\n", kp.PrivateKey)
	fmt.Fprintln(globals.Stdout)
	fmt.Fprintln(globals.Stdout, "To sign receipts, export:")
	fmt.Fprintf(globals.Stdout, "  export HALO_KEY_ID=%s\n", kp.KeyID)
	fmt.Fprintf(globals.Stdout, "  export HALO_ED25519_PRIVATE_KEY_B64=%s\n", kp.PrivateKey)
	fmt.Fprintln(globals.Stdout)
	fmt.Fprintln(globals.Stdout, "To verify bundles:")
	_, err = fmt.Fprintf(globals.Stdout, "  valet verify --public-key %s BUNDLE...\n", kp.PublicKey)
	return err
}
