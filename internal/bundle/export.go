// Package bundle writes and verifies HALO bundles: deterministic zip
// archives holding a receipt, its evidence and a manifest whose digest is
// the receipt's bundle_hash.
package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
)

// Extension is the bundle file extension.
const Extension = ".halo"

// ErrInvalidID is returned for identifiers that cannot name a bundle file.
var ErrInvalidID = errors.New("bundle: invalid identifier")

// Blob is attachment content stored at Path inside the archive.
type Blob struct {
	Path    string
	Content []byte
}

// Session is everything a session bundle is built from. Receipt must
// already carry its signatures.
type Session struct {
	Receipt   domain.SessionReceipt
	Events    []domain.Event
	Blobs     []Blob
	SourceURL string
	MachineID string
	// CreatedAt defaults to Receipt.EndedAt.
	CreatedAt string
}

// Snapshot is everything a snapshot bundle is built from.
type Snapshot struct {
	Receipt   domain.SnapshotReceipt
	Payload   any
	RawText   string
	SourceURL string
	MachineID string
	// CreatedAt defaults to Receipt.CapturedAt.
	CreatedAt string
}

// SessionFileName returns the bundle file name for a session id.
func SessionFileName(id string) string { return "session_" + id + Extension }

// SnapshotFileName returns the bundle file name for a snapshot id.
func SnapshotFileName(id string) string { return "snapshot_" + id + Extension }

// ExportSession writes a session bundle into dir and returns its path and
// the final receipt carrying bundle_hash.
func ExportSession(dir string, s Session) (string, *domain.SessionReceipt, error) {
	if err := checkID(s.Receipt.SessionID); err != nil {
		return "", nil, err
	}

	createdAt := s.CreatedAt
	if createdAt == "" {
		createdAt = s.Receipt.EndedAt
	}
	metaBytes, err := encodeMeta(domain.ModeRecord, createdAt, s.SourceURL, s.MachineID)
	if err != nil {
		return "", nil, err
	}

	receipt := s.Receipt
	receipt.BundleManifestSchema = domain.ManifestSchemaVersion
	receipt.BundleHash = ""
	if receipt.Signatures == nil {
		receipt.Signatures = []domain.SignatureBlock{}
	}
	if receipt.Events == nil {
		receipt.Events = []domain.EventSummary{}
	}
	receiptDigest, err := receiptSHA256(receipt)
	if err != nil {
		return "", nil, err
	}

	events := s.Events
	if events == nil {
		events = []domain.Event{}
	}
	eventsBytes, err := canonical.Encode(events)
	if err != nil {
		return "", nil, fmt.Errorf("encode events: %w", err)
	}

	descriptors, blobEntries, err := collectAttachments(events, s.Blobs)
	if err != nil {
		return "", nil, err
	}

	manifest := domain.BundleManifest{
		SchemaVersion: domain.ManifestSchemaVersion,
		Mode:          domain.ModeRecord,
		MetaSHA256:    digest.Hex(metaBytes),
		ReceiptSHA256: receiptDigest,
		EventsSHA256:  digest.Hex(eventsBytes),
		Attachments:   descriptors,
	}
	manifestBytes, err := canonical.Encode(manifest)
	if err != nil {
		return "", nil, fmt.Errorf("encode manifest: %w", err)
	}
	receipt.BundleHash = digest.Hex(manifestBytes)

	receiptBytes, err := canonical.Encode(receipt)
	if err != nil {
		return "", nil, fmt.Errorf("encode receipt: %w", err)
	}
	logBytes, err := canonical.Encode(SessionVerificationLog(receipt.Signatures))
	if err != nil {
		return "", nil, err
	}

	entries := []entry{
		{domain.EntryMeta, metaBytes},
		{domain.EntryManifest, manifestBytes},
		{domain.EntrySessionReceipt, receiptBytes},
		{domain.EntryEvents, eventsBytes},
	}
	entries = append(entries, blobEntries...)
	entries = append(entries, entry{domain.EntryVerificationLog, logBytes})

	path := filepath.Join(dir, SessionFileName(receipt.SessionID))
	if err := writeArchive(path, entries); err != nil {
		return "", nil, fmt.Errorf("write bundle %s: %w", path, err)
	}
	return path, &receipt, nil
}

// ExportSnapshot writes a snapshot bundle into dir and returns its path and
// the final receipt carrying bundle_hash.
func ExportSnapshot(dir string, s Snapshot) (string, *domain.SnapshotReceipt, error) {
	if err := checkID(s.Receipt.SnapshotID); err != nil {
		return "", nil, err
	}

	createdAt := s.CreatedAt
	if createdAt == "" {
		createdAt = s.Receipt.CapturedAt
	}
	metaBytes, err := encodeMeta(domain.ModeSnapshot, createdAt, s.SourceURL, s.MachineID)
	if err != nil {
		return "", nil, err
	}

	receipt := s.Receipt
	receipt.BundleManifestSchema = domain.ManifestSchemaVersion
	receipt.BundleHash = ""
	if receipt.Signatures == nil {
		receipt.Signatures = []domain.SignatureBlock{}
	}
	receiptDigest, err := receiptSHA256(receipt)
	if err != nil {
		return "", nil, err
	}

	payloadBytes, err := canonical.Encode(s.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("encode payload: %w", err)
	}

	manifest := domain.BundleManifest{
		SchemaVersion: domain.ManifestSchemaVersion,
		Mode:          domain.ModeSnapshot,
		MetaSHA256:    digest.Hex(metaBytes),
		ReceiptSHA256: receiptDigest,
		PayloadSHA256: digest.Hex(payloadBytes),
		Attachments:   []domain.Attachment{},
	}
	var raw []byte
	if s.RawText != "" {
		raw = []byte(s.RawText)
		h := digest.Hex(raw)
		manifest.RawContentSHA256 = &h
	}
	manifestBytes, err := canonical.Encode(manifest)
	if err != nil {
		return "", nil, fmt.Errorf("encode manifest: %w", err)
	}
	receipt.BundleHash = digest.Hex(manifestBytes)

	receiptBytes, err := canonical.Encode(receipt)
	if err != nil {
		return "", nil, fmt.Errorf("encode receipt: %w", err)
	}
	logBytes, err := canonical.Encode(SnapshotVerificationLog(receipt.Signatures))
	if err != nil {
		return "", nil, err
	}

	entries := []entry{
		{domain.EntryMeta, metaBytes},
		{domain.EntryManifest, manifestBytes},
		{domain.EntrySnapshotReceipt, receiptBytes},
		{domain.EntryPayload, payloadBytes},
	}
	if raw != nil {
		entries = append(entries, entry{domain.EntryRawContent, raw})
	}
	entries = append(entries, entry{domain.EntryVerificationLog, logBytes})

	path := filepath.Join(dir, SnapshotFileName(receipt.SnapshotID))
	if err := writeArchive(path, entries); err != nil {
		return "", nil, fmt.Errorf("write bundle %s: %w", path, err)
	}
	return path, &receipt, nil
}

// SessionVerificationLog lists the checks a verifier runs on a session bundle.
func SessionVerificationLog(sigs []domain.SignatureBlock) domain.VerificationLog {
	return domain.VerificationLog{
		Steps: []string{
			"canonical_json",
			"payload_hash",
			"event_hash_chain",
			"transcript_hash",
			signingStep(sigs),
			"bundle_hash",
		},
		Success: true,
	}
}

// SnapshotVerificationLog lists the checks a verifier runs on a snapshot bundle.
func SnapshotVerificationLog(sigs []domain.SignatureBlock) domain.VerificationLog {
	return domain.VerificationLog{
		Steps: []string{
			"canonical_json",
			"payload_hash",
			signingStep(sigs),
			"bundle_hash",
		},
		Success: true,
	}
}

func signingStep(sigs []domain.SignatureBlock) string {
	if len(sigs) == 0 {
		return "signing: none"
	}
	return "signing: " + sigs[0].Alg
}

func encodeMeta(mode, createdAt, sourceURL, machineID string) ([]byte, error) {
	meta := domain.Meta{
		CreatedAt:    createdAt,
		ValetVersion: domain.RecorderVersion,
		Mode:         mode,
		MachineID:    machineID,
	}
	if sourceURL != "" {
		meta.SourceURL = &sourceURL
	}
	b, err := canonical.Encode(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return b, nil
}

// receiptSHA256 digests the receipt without bundle_hash. Signatures are
// final at this point and included.
func receiptSHA256(receipt any) (string, error) {
	b, err := canonical.EncodeWithout(receipt, domain.FieldBundleHash)
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	return digest.Hex(b), nil
}

// collectAttachments lists every event's attachment descriptors in event
// order and pairs each with its content.
func collectAttachments(events []domain.Event, blobs []Blob) ([]domain.Attachment, []entry, error) {
	byPath := make(map[string][]byte, len(blobs))
	for _, b := range blobs {
		byPath[b.Path] = b.Content
	}

	descriptors := []domain.Attachment{}
	var entries []entry
	for _, ev := range events {
		for _, a := range ev.Attachments {
			content, ok := byPath[a.PathInBundle]
			if !ok {
				return nil, nil, fmt.Errorf("bundle: missing content for attachment %s", a.PathInBundle)
			}
			if digest.Hex(content) != a.SHA256 || int64(len(content)) != a.SizeBytes {
				return nil, nil, fmt.Errorf("bundle: content of %s does not match its descriptor", a.PathInBundle)
			}
			descriptors = append(descriptors, a)
			entries = append(entries, entry{a.PathInBundle, content})
		}
	}
	return descriptors, entries, nil
}

func checkID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	}
	return nil
}
