package bundle

import (
	"bytes"
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/signer"
)

func TestVerifySignedSession(t *testing.T) {
	sg := testSigner(t)
	path, _, err := ExportSession(t.TempDir(), sessionFixture(t, sg))
	require.NoError(t, err)

	report, err := Verify(path, VerifyOptions{PublicKey: sg.PublicKey()})
	require.NoError(t, err)
	assert.True(t, report.OK, "%+v", report.Failed())
	assert.Equal(t, domain.ModeRecord, report.Mode)
	assert.Equal(t, StatusPass, findCheck(report, CheckSignature).Status)
	assert.Equal(t, StatusPass, findCheck(report, CheckEventChain).Status)
	assert.Equal(t, StatusPass, findCheck(report, CheckAttachments).Status)
	assert.Equal(t, StatusSkip, findCheck(report, CheckRawContent).Status)
}

func TestVerifyWithoutPublicKeySkipsSignature(t *testing.T) {
	unsigned, _, err := ExportSession(t.TempDir(), sessionFixture(t, signer.Noop{}))
	require.NoError(t, err)
	report, err := Verify(unsigned, VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, Check{Name: CheckSignature, Status: StatusSkip, Detail: "unsigned"}, findCheck(report, CheckSignature))

	signed, _, err := ExportSession(t.TempDir(), sessionFixture(t, testSigner(t)))
	require.NoError(t, err)
	report, err = Verify(signed, VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, Check{Name: CheckSignature, Status: StatusSkip, Detail: "no public key"}, findCheck(report, CheckSignature))
}

func TestVerifyUnsignedWithPublicKeyFails(t *testing.T) {
	path, _, err := ExportSession(t.TempDir(), sessionFixture(t, signer.Noop{}))
	require.NoError(t, err)

	report, err := Verify(path, VerifyOptions{PublicKey: testSigner(t).PublicKey()})
	require.NoError(t, err)
	assert.False(t, report.OK)
	check := findCheck(report, CheckSignature)
	assert.Equal(t, StatusFail, check.Status)
	assert.Contains(t, check.Detail, "expected a signature")
}

func TestVerifyDetectsStrippedSignature(t *testing.T) {
	sg := testSigner(t)
	s := sessionFixture(t, sg)
	s.Receipt.Signatures = nil
	s.Receipt.SessionID = "sess-forged"
	path, _, err := ExportSession(t.TempDir(), s)
	require.NoError(t, err)

	tests := []struct {
		name   string
		opts   VerifyOptions
		detail string
	}{
		{name: "with public key", opts: VerifyOptions{PublicKey: sg.PublicKey()}, detail: "expected a signature"},
		{name: "without public key", opts: VerifyOptions{}, detail: "issuer key k1 but no signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Verify(path, tt.opts)
			require.NoError(t, err)
			assert.False(t, report.OK)
			failed := report.Failed()
			require.Len(t, failed, 1, "every digest was recomputed")
			assert.Equal(t, CheckSignature, failed[0].Name)
			assert.Contains(t, failed[0].Detail, tt.detail)
		})
	}
}

func TestVerifyRejectsSignatureFromOtherKeyID(t *testing.T) {
	s := sessionFixture(t, testSigner(t))
	s.Receipt.Signatures[0].KeyID = "k2"
	path, _, err := ExportSession(t.TempDir(), s)
	require.NoError(t, err)

	report, err := Verify(path, VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, report.OK)
	check := findCheck(report, CheckSignature)
	assert.Equal(t, StatusFail, check.Status)
	assert.Equal(t, "signature key k2 does not match issuer key k1", check.Detail)
}

func TestVerifyRejectsUnknownReceiptSchema(t *testing.T) {
	s := sessionFixture(t, signer.Noop{})
	s.Receipt.SchemaVersion = domain.SnapshotSchemaVersion
	path, _, err := ExportSession(t.TempDir(), s)
	require.NoError(t, err)

	report, err := Verify(path, VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, report.OK)
	check := findCheck(report, CheckReceipt)
	assert.Equal(t, StatusFail, check.Status)
	assert.Contains(t, check.Detail, domain.SessionSchemaVersion)

	snap := snapshotFixture(t, signer.Noop{}, "")
	snap.Receipt.SchemaVersion = "halo.snapshot.v0"
	path, _, err = ExportSnapshot(t.TempDir(), snap)
	require.NoError(t, err)
	report, err = Verify(path, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, findCheck(report, CheckReceipt).Status)
}

func TestVerifySnapshot(t *testing.T) {
	sg := testSigner(t)
	path, _, err := ExportSnapshot(t.TempDir(), snapshotFixture(t, sg, "raw"))
	require.NoError(t, err)

	report, err := Verify(path, VerifyOptions{PublicKey: sg.PublicKey()})
	require.NoError(t, err)
	assert.True(t, report.OK, "%+v", report.Failed())
	assert.Equal(t, domain.ModeSnapshot, report.Mode)
	assert.Equal(t, StatusPass, findCheck(report, CheckPayloadHash).Status)
	assert.Equal(t, StatusPass, findCheck(report, CheckRawContent).Status)
	assert.Equal(t, StatusPass, findCheck(report, CheckSignature).Status)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	path, _, err := ExportSession(t.TempDir(), sessionFixture(t, testSigner(t)))
	require.NoError(t, err)

	other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, 32)).Public().(ed25519.PublicKey)
	report, err := Verify(path, VerifyOptions{PublicKey: other})
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, StatusFail, findCheck(report, CheckSignature).Status)
}

func TestVerifyDetectsSessionTampering(t *testing.T) {
	sg := testSigner(t)
	path, _, err := ExportSession(t.TempDir(), sessionFixture(t, sg))
	require.NoError(t, err)

	tests := []struct {
		name   string
		edit   func(string, []byte) []byte
		failed []string
	}{
		{
			name:   "event payload",
			edit:   replaceIn(domain.EntryEvents, `"text":"hi"`, `"text":"HI"`),
			failed: []string{CheckEvents, CheckEventChain, CheckTranscriptHash},
		},
		{
			name:   "meta",
			edit:   replaceIn(domain.EntryMeta, `"machine_id":"m1"`, `"machine_id":"m2"`),
			failed: []string{CheckMeta},
		},
		{
			name:   "receipt field",
			edit:   replaceIn(domain.EntrySessionReceipt, `"started_at":"2024-01-01T12:00:00Z"`, `"started_at":"2024-01-01T12:00:09Z"`),
			failed: []string{CheckReceipt, CheckSignature},
		},
		{
			name:   "manifest attachment",
			edit:   replaceIn(domain.EntryManifest, `"mime":"text/plain"`, `"mime":"text/html"`),
			failed: []string{CheckBundleHash, CheckEventChain},
		},
		{
			name:   "attachment content",
			edit:   replaceIn(attachmentPath, "log", "LOG"),
			failed: []string{CheckAttachments},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := rewrite(t, path, tt.edit)
			report, err := Verify(tampered, VerifyOptions{PublicKey: sg.PublicKey()})
			require.NoError(t, err)
			assert.False(t, report.OK)
			for _, name := range tt.failed {
				assert.Equal(t, StatusFail, findCheck(report, name).Status, name)
			}
		})
	}
}

func TestVerifyDetectsSnapshotPayloadTampering(t *testing.T) {
	path, _, err := ExportSnapshot(t.TempDir(), snapshotFixture(t, signer.Noop{}, ""))
	require.NoError(t, err)

	tampered := rewrite(t, path, replaceIn(domain.EntryPayload, "42", "43"))
	report, err := Verify(tampered, VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, StatusFail, findCheck(report, CheckPayload).Status)
	assert.Equal(t, StatusFail, findCheck(report, CheckPayloadHash).Status)
}

func TestVerifyRewrittenUntamperedBundleStillPasses(t *testing.T) {
	path, _, err := ExportSession(t.TempDir(), sessionFixture(t, signer.Noop{}))
	require.NoError(t, err)

	copied := rewrite(t, path, func(_ string, b []byte) []byte { return b })
	report, err := Verify(copied, VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK, "%+v", report.Failed())
}

func TestVerifyUnreadableBundle(t *testing.T) {
	_, err := Verify(filepath.Join(t.TempDir(), "missing.halo"), VerifyOptions{})
	require.Error(t, err)
}
