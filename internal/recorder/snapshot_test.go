package recorder

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/signer"
)

func snapshotOptions(opts ...Option) []Option {
	return append([]Option{
		WithClock(mockClock()),
		WithIDGenerator(fixedID("snap-1")),
		WithSigner(signer.Noop{}),
	}, opts...)
}

func TestCreateSnapshot(t *testing.T) {
	dir := t.TempDir()
	path, receipt, err := CreateSnapshot(map[string]any{"answer": 42}, dir, "machine-1",
		snapshotOptions(WithSubject(map[string]any{"app": "chat"}))...)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, domain.SnapshotSchemaVersion, receipt.SchemaVersion)
	assert.Equal(t, "snap-1", receipt.SnapshotID)
	assert.Equal(t, "2024-01-01T12:00:00Z", receipt.CapturedAt)
	assert.Equal(t, domain.DefaultSnapshotType, receipt.Type)
	assert.Equal(t, map[string]any{"machine_id": "machine-1", "app": "chat"}, receipt.Subject)
	assert.Equal(t, domain.ManifestSchemaVersion, receipt.BundleManifestSchema)
	assert.NotNil(t, receipt.Signatures)
	assert.Empty(t, receipt.Signatures)

	a, err := bundle.Open(path)
	require.NoError(t, err)
	payload, _ := a.File(domain.EntryPayload)
	assert.Equal(t, `{"answer":42}`, string(payload))
	_, ok := a.File(domain.EntryRawContent)
	assert.False(t, ok)
}

func TestCreateSnapshotSignedWithRawText(t *testing.T) {
	sg := testSigner(t)
	path, receipt, err := CreateSnapshot(map[string]any{"q": "?"}, t.TempDir(), "m",
		snapshotOptions(WithSigner(sg), WithRawText("raw transcript"), WithSnapshotType("chat.turn"), WithSourceURL("https://example.com"))...)
	require.NoError(t, err)
	assert.Equal(t, "chat.turn", receipt.Type)
	require.Len(t, receipt.Signatures, 1)

	report, err := bundle.Verify(path, bundle.VerifyOptions{PublicKey: sg.PublicKey()})
	require.NoError(t, err)
	assert.True(t, report.OK, "%+v", report.Failed())
	assert.Equal(t, bundle.StatusPass, report.Checks[len(report.Checks)-1].Status)
}

func TestCreateSnapshotIsDeterministic(t *testing.T) {
	export := func() []byte {
		path, _, err := CreateSnapshot(map[string]any{"b": 1, "a": []any{"x"}}, t.TempDir(), "m",
			snapshotOptions(WithSigner(testSigner(t)))...)
		require.NoError(t, err)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, export(), export())
}

func TestCreateSnapshotRejectsUnencodablePayload(t *testing.T) {
	dir := t.TempDir()
	_, _, err := CreateSnapshot(map[string]any{"f": func() {}}, dir, "m", snapshotOptions()...)
	require.ErrorIs(t, err, ErrEncoding)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
