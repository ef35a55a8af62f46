package bundle

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/signer"
)

func TestExportSessionLayout(t *testing.T) {
	dir := t.TempDir()
	path, receipt, err := ExportSession(dir, sessionFixture(t, signer.Noop{}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_sess-1.halo"), path)

	a, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		domain.EntryMeta,
		domain.EntryManifest,
		domain.EntrySessionReceipt,
		domain.EntryEvents,
		attachmentPath,
		domain.EntryVerificationLog,
	}, a.Names)

	meta, _ := a.File(domain.EntryMeta)
	assert.JSONEq(t, `{"created_at":"2024-01-01T12:00:05Z","domain":null,"machine_id":"m1","mode":"record","source_url":null,"valet_version":"0.1"}`, string(meta))

	manifestBytes, _ := a.File(domain.EntryManifest)
	assert.Equal(t, digest.Hex(manifestBytes), receipt.BundleHash)

	events, _ := a.File(domain.EntryEvents)
	assert.Equal(t, receipt.TranscriptHash, digest.Hex(events))

	var manifest domain.BundleManifest
	require.NoError(t, a.Decode(domain.EntryManifest, &manifest))
	assert.Equal(t, domain.ModeRecord, manifest.Mode)
	assert.Equal(t, digest.Hex(meta), manifest.MetaSHA256)
	assert.Equal(t, digest.Hex(events), manifest.EventsSHA256)
	assert.Empty(t, manifest.PayloadSHA256)
	assert.Nil(t, manifest.RawContentSHA256)
	require.Len(t, manifest.Attachments, 1)
	assert.Equal(t, attachmentPath, manifest.Attachments[0].PathInBundle)

	var stored domain.SessionReceipt
	require.NoError(t, a.Decode(domain.EntrySessionReceipt, &stored))
	assert.Equal(t, receipt.BundleHash, stored.BundleHash)
	assert.Equal(t, domain.ManifestSchemaVersion, stored.BundleManifestSchema)
	assert.NotNil(t, stored.Signatures)
	assert.Empty(t, stored.Signatures)

	var vlog domain.VerificationLog
	require.NoError(t, a.Decode(domain.EntryVerificationLog, &vlog))
	assert.Equal(t, []string{"canonical_json", "payload_hash", "event_hash_chain", "transcript_hash", "signing: none", "bundle_hash"}, vlog.Steps)
	assert.True(t, vlog.Success)
}

func TestExportSessionIsDeterministic(t *testing.T) {
	sg := testSigner(t)
	p1, r1, err := ExportSession(t.TempDir(), sessionFixture(t, sg))
	require.NoError(t, err)
	p2, r2, err := ExportSession(t.TempDir(), sessionFixture(t, sg))
	require.NoError(t, err)

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.Equal(t, r1, r2)
}

func TestExportEntriesUseBundleMode(t *testing.T) {
	path, _, err := ExportSession(t.TempDir(), sessionFixture(t, signer.Noop{}))
	require.NoError(t, err)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	for _, f := range zr.File {
		assert.Equal(t, bundleMode, f.Mode(), f.Name)
		assert.True(t, entryTime.Equal(f.Modified), f.Name)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&^bundleMode, "file permission never exceeds the entry mode")
}

func TestExportSnapshotWithRawText(t *testing.T) {
	dir := t.TempDir()
	path, receipt, err := ExportSnapshot(dir, snapshotFixture(t, testSigner(t), "the answer is 42"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snapshot_snap-1.halo"), path)

	a, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		domain.EntryMeta,
		domain.EntryManifest,
		domain.EntrySnapshotReceipt,
		domain.EntryPayload,
		domain.EntryRawContent,
		domain.EntryVerificationLog,
	}, a.Names)

	payload, _ := a.File(domain.EntryPayload)
	assert.Equal(t, `{"answer":42}`, string(payload))
	assert.Equal(t, receipt.PayloadHash, digest.Hex(payload))

	var manifest domain.BundleManifest
	require.NoError(t, a.Decode(domain.EntryManifest, &manifest))
	require.NotNil(t, manifest.RawContentSHA256)
	assert.Equal(t, digest.Hex([]byte("the answer is 42")), *manifest.RawContentSHA256)
	assert.Empty(t, manifest.EventsSHA256)
	assert.NotNil(t, manifest.Attachments)

	var meta domain.Meta
	require.NoError(t, a.Decode(domain.EntryMeta, &meta))
	require.NotNil(t, meta.SourceURL)
	assert.Equal(t, "https://example.com/chat", *meta.SourceURL)
	assert.Equal(t, domain.ModeSnapshot, meta.Mode)

	var vlog domain.VerificationLog
	require.NoError(t, a.Decode(domain.EntryVerificationLog, &vlog))
	assert.Equal(t, []string{"canonical_json", "payload_hash", "signing: ed25519", "bundle_hash"}, vlog.Steps)
}

func TestExportSnapshotWithoutRawText(t *testing.T) {
	path, _, err := ExportSnapshot(t.TempDir(), snapshotFixture(t, signer.Noop{}, ""))
	require.NoError(t, err)

	a, err := Open(path)
	require.NoError(t, err)
	_, ok := a.File(domain.EntryRawContent)
	assert.False(t, ok)
}

func TestExportRejectsUnsafeIDs(t *testing.T) {
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		t.Run(id, func(t *testing.T) {
			dir := t.TempDir()
			s := sessionFixture(t, signer.Noop{})
			s.Receipt.SessionID = id

			_, _, err := ExportSession(dir, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidID))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestExportRejectsMismatchedAttachmentContent(t *testing.T) {
	dir := t.TempDir()
	s := sessionFixture(t, signer.Noop{})
	s.Blobs[0].Content = []byte("something else")

	_, _, err := ExportSession(dir, s)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportFailsWhenDirIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, _, err := ExportSession(file, sessionFixture(t, signer.Noop{}))
	require.Error(t, err)
}
