package bundle

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/chain"
	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/signer"
)

const (
	testMachine    = "m1"
	attachmentPath = "attachments/2/out.txt"
)

func testSigner(t *testing.T) *signer.Ed25519 {
	t.Helper()
	s, err := signer.NewEd25519("k1", digest.EncodeBase64URL(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)
	return s
}

func signInto(t *testing.T, sg signer.Signer, receipt any) []domain.SignatureBlock {
	t.Helper()
	payload, err := canonical.EncodeWithout(receipt, domain.FieldSignatures, domain.FieldBundleHash)
	require.NoError(t, err)
	block, err := sg.Sign(payload)
	require.NoError(t, err)
	if block == nil {
		return []domain.SignatureBlock{}
	}
	return []domain.SignatureBlock{*block}
}

func sessionFixture(t *testing.T, sg signer.Signer) Session {
	t.Helper()

	content := []byte("log line\n")
	att := domain.Attachment{
		Name:         "out.txt",
		SHA256:       digest.Hex(content),
		SizeBytes:    int64(len(content)),
		MIME:         "text/plain",
		PathInBundle: attachmentPath,
	}

	var c chain.Chain
	_, err := c.Append("2024-01-01T12:00:00Z", "user.prompt", map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	_, err = c.Append("2024-01-01T12:00:01Z", "tool.call", map[string]any{"name": "echo", "args": []any{"hello"}}, []domain.Attachment{att})
	require.NoError(t, err)

	events := c.Events()
	transcript, err := chain.TranscriptHash(events)
	require.NoError(t, err)

	receipt := domain.SessionReceipt{
		SchemaVersion:        domain.SessionSchemaVersion,
		SessionID:            "sess-1",
		StartedAt:            "2024-01-01T12:00:00Z",
		EndedAt:              "2024-01-01T12:00:05Z",
		Issuer:               domain.Issuer{Service: "valet", KeyID: sg.KeyID()},
		Subject:              map[string]any{"machine_id": testMachine},
		Events:               []domain.EventSummary{events[0].Summary(), events[1].Summary()},
		TranscriptHash:       transcript,
		BundleManifestSchema: domain.ManifestSchemaVersion,
		Signatures:           []domain.SignatureBlock{},
	}
	receipt.Signatures = signInto(t, sg, receipt)

	return Session{
		Receipt:   receipt,
		Events:    events,
		Blobs:     []Blob{{Path: attachmentPath, Content: content}},
		MachineID: testMachine,
	}
}

func snapshotFixture(t *testing.T, sg signer.Signer, raw string) Snapshot {
	t.Helper()

	payload, err := canonical.Normalize(map[string]any{"answer": 42})
	require.NoError(t, err)
	payloadHash, err := chain.PayloadHash(payload)
	require.NoError(t, err)

	receipt := domain.SnapshotReceipt{
		SchemaVersion:        domain.SnapshotSchemaVersion,
		SnapshotID:           "snap-1",
		CapturedAt:           "2024-01-01T12:00:00Z",
		Issuer:               domain.Issuer{Service: "valet", KeyID: sg.KeyID()},
		Subject:              map[string]any{"machine_id": testMachine},
		Type:                 domain.DefaultSnapshotType,
		Payload:              payload,
		PayloadHash:          payloadHash,
		BundleManifestSchema: domain.ManifestSchemaVersion,
		Signatures:           []domain.SignatureBlock{},
	}
	receipt.Signatures = signInto(t, sg, receipt)

	return Snapshot{
		Receipt:   receipt,
		Payload:   payload,
		RawText:   raw,
		SourceURL: "https://example.com/chat",
		MachineID: testMachine,
	}
}

// rewrite copies the bundle at src to a new file, passing every entry
// through edit.
func rewrite(t *testing.T, src string, edit func(name string, data []byte) []byte) string {
	t.Helper()
	a, err := Open(src)
	require.NoError(t, err)

	var entries []entry
	for _, name := range a.Names {
		data, _ := a.File(name)
		entries = append(entries, entry{name: name, data: edit(name, data)})
	}
	dst := filepath.Join(t.TempDir(), filepath.Base(src))
	require.NoError(t, writeArchive(dst, entries))
	return dst
}

func replaceIn(target, old, new string) func(string, []byte) []byte {
	return func(name string, data []byte) []byte {
		if name != target {
			return data
		}
		return bytes.Replace(data, []byte(old), []byte(new), 1)
	}
}

func findCheck(r *Report, name string) Check {
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	return Check{}
}
