package bundle

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/samber/lo"

	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/chain"
	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/signer"
)

// Check names, in the order Verify runs them.
const (
	CheckManifest       = "manifest"
	CheckMeta           = "meta_sha256"
	CheckReceipt        = "receipt_sha256"
	CheckEvents         = "events_sha256"
	CheckPayload        = "payload_sha256"
	CheckRawContent     = "raw_content_sha256"
	CheckAttachments    = "attachments"
	CheckBundleHash     = "bundle_hash"
	CheckEventChain     = "event_chain"
	CheckEventSummaries = "event_summaries"
	CheckTranscriptHash = "transcript_hash"
	CheckPayloadHash    = "payload_hash"
	CheckSignature      = "signature"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Check is one verification step.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes bundle verification.
type Report struct {
	Path   string  `json:"path"`
	Mode   string  `json:"mode"`
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// VerifyOptions configures Verify.
type VerifyOptions struct {
	// PublicKey verifies Ed25519 signatures. Nil skips the signature check.
	PublicKey ed25519.PublicKey
}

func (r *Report) add(name string, status Status, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: detail})
	if status == StatusFail {
		r.OK = false
	}
}

func (r *Report) pass(name string) { r.add(name, StatusPass, "") }

func (r *Report) skip(name, why string) { r.add(name, StatusSkip, why) }

func (r *Report) fail(name, format string, a ...any) {
	r.add(name, StatusFail, fmt.Sprintf(format, a...))
}

// Failed returns the failing checks.
func (r *Report) Failed() []Check {
	return lo.Filter(r.Checks, func(c Check, _ int) bool { return c.Status == StatusFail })
}

// Verify recomputes every digest in the bundle at path and checks them
// against the manifest, the receipt and, with a public key, the signature.
// Tampering is reported through the Report; the error is reserved for
// bundles that cannot be read at all.
func Verify(path string, opts VerifyOptions) (*Report, error) {
	a, err := Open(path)
	if err != nil {
		return nil, err
	}
	return VerifyArchive(a, opts), nil
}

// VerifyArchive is Verify on an already opened archive.
func VerifyArchive(a *Archive, opts VerifyOptions) *Report {
	r := &Report{Path: a.Path, OK: true}

	var manifest domain.BundleManifest
	if err := a.Decode(domain.EntryManifest, &manifest); err != nil {
		r.fail(CheckManifest, "%v", err)
		return r
	}
	r.Mode = manifest.Mode
	manifestBytes, _ := a.File(domain.EntryManifest)
	switch {
	case manifest.SchemaVersion != domain.ManifestSchemaVersion:
		r.fail(CheckManifest, "unknown schema %q", manifest.SchemaVersion)
		return r
	case manifest.Mode != domain.ModeRecord && manifest.Mode != domain.ModeSnapshot:
		r.fail(CheckManifest, "unknown mode %q", manifest.Mode)
		return r
	default:
		r.pass(CheckManifest)
	}

	checkDigest(r, a, CheckMeta, domain.EntryMeta, manifest.MetaSHA256)

	receiptName, receiptSchema := domain.EntrySessionReceipt, domain.SessionSchemaVersion
	if manifest.Mode == domain.ModeSnapshot {
		receiptName, receiptSchema = domain.EntrySnapshotReceipt, domain.SnapshotSchemaVersion
	}
	receiptBytes, ok := a.File(receiptName)
	if !ok {
		r.fail(CheckReceipt, "missing %s", receiptName)
		return r
	}
	receiptTree, err := canonical.Decode(receiptBytes)
	if err != nil {
		r.fail(CheckReceipt, "decode %s: %v", receiptName, err)
		return r
	}
	if version := receiptSchemaVersion(receiptTree); version != receiptSchema {
		r.fail(CheckReceipt, "unknown schema %q, want %s", version, receiptSchema)
	} else if got, err := receiptSHA256(receiptTree); err != nil {
		r.fail(CheckReceipt, "%v", err)
	} else if got != manifest.ReceiptSHA256 {
		r.fail(CheckReceipt, "manifest has %s, computed %s", manifest.ReceiptSHA256, got)
	} else {
		r.pass(CheckReceipt)
	}

	if manifest.Mode == domain.ModeRecord {
		checkDigest(r, a, CheckEvents, domain.EntryEvents, manifest.EventsSHA256)
	} else {
		checkDigest(r, a, CheckPayload, domain.EntryPayload, manifest.PayloadSHA256)
	}
	checkRawContent(r, a, manifest.RawContentSHA256)
	checkAttachments(r, a, manifest.Attachments)

	// bundle_hash is defined over the canonical manifest.
	checkBundleHash(r, manifestBytes, receiptTree)

	var (
		sigs   []domain.SignatureBlock
		issuer domain.Issuer
	)
	if manifest.Mode == domain.ModeRecord {
		var receipt domain.SessionReceipt
		if err := a.Decode(receiptName, &receipt); err != nil {
			r.fail(CheckEventChain, "%v", err)
			return r
		}
		checkSessionEvidence(r, a, receipt, manifest.Attachments)
		sigs, issuer = receipt.Signatures, receipt.Issuer
	} else {
		var receipt domain.SnapshotReceipt
		if err := a.Decode(receiptName, &receipt); err != nil {
			r.fail(CheckPayloadHash, "%v", err)
			return r
		}
		checkSnapshotEvidence(r, a, receipt)
		sigs, issuer = receipt.Signatures, receipt.Issuer
	}

	checkSignatures(r, receiptTree, issuer.KeyID, sigs, opts.PublicKey)
	return r
}

func checkDigest(r *Report, a *Archive, check, name, want string) {
	b, ok := a.File(name)
	if !ok {
		r.fail(check, "missing %s", name)
		return
	}
	if got := digest.Hex(b); got != want {
		r.fail(check, "manifest has %s, computed %s", want, got)
		return
	}
	r.pass(check)
}

func checkRawContent(r *Report, a *Archive, want *string) {
	b, present := a.File(domain.EntryRawContent)
	switch {
	case want == nil && !present:
		r.skip(CheckRawContent, "no raw content")
	case want == nil:
		r.fail(CheckRawContent, "%s present but not in manifest", domain.EntryRawContent)
	case !present:
		r.fail(CheckRawContent, "missing %s", domain.EntryRawContent)
	case digest.Hex(b) != *want:
		r.fail(CheckRawContent, "manifest has %s, computed %s", *want, digest.Hex(b))
	default:
		r.pass(CheckRawContent)
	}
}

func checkAttachments(r *Report, a *Archive, descriptors []domain.Attachment) {
	if len(descriptors) == 0 {
		r.skip(CheckAttachments, "no attachments")
		return
	}
	for _, d := range descriptors {
		b, ok := a.File(d.PathInBundle)
		if !ok {
			r.fail(CheckAttachments, "missing %s", d.PathInBundle)
			return
		}
		if digest.Hex(b) != d.SHA256 || int64(len(b)) != d.SizeBytes {
			r.fail(CheckAttachments, "%s does not match its descriptor", d.PathInBundle)
			return
		}
	}
	r.pass(CheckAttachments)
}

func checkSessionEvidence(r *Report, a *Archive, receipt domain.SessionReceipt, manifestAttachments []domain.Attachment) {
	var events []domain.Event
	if err := a.Decode(domain.EntryEvents, &events); err != nil {
		r.fail(CheckEventChain, "%v", err)
		return
	}

	if err := chain.Verify(events); err != nil {
		r.fail(CheckEventChain, "%v", err)
	} else {
		listed := lo.FlatMap(events, func(e domain.Event, _ int) []domain.Attachment { return e.Attachments })
		if !sameJSON(listed, nonNil(manifestAttachments)) {
			r.fail(CheckEventChain, "event attachments differ from manifest")
		} else {
			r.pass(CheckEventChain)
		}
	}

	summaries := lo.Map(events, func(e domain.Event, _ int) domain.EventSummary { return e.Summary() })
	if !sameJSON(summaries, nonNil(receipt.Events)) {
		r.fail(CheckEventSummaries, "receipt events differ from %s", domain.EntryEvents)
	} else {
		r.pass(CheckEventSummaries)
	}

	transcript, err := chain.TranscriptHash(events)
	switch {
	case err != nil:
		r.fail(CheckTranscriptHash, "%v", err)
	case transcript != receipt.TranscriptHash:
		r.fail(CheckTranscriptHash, "receipt has %s, computed %s", receipt.TranscriptHash, transcript)
	default:
		r.pass(CheckTranscriptHash)
	}
}

func checkSnapshotEvidence(r *Report, a *Archive, receipt domain.SnapshotReceipt) {
	payloadBytes, ok := a.File(domain.EntryPayload)
	if !ok {
		r.fail(CheckPayloadHash, "missing %s", domain.EntryPayload)
		return
	}
	embedded, err := canonical.Encode(receipt.Payload)
	if err != nil {
		r.fail(CheckPayloadHash, "%v", err)
		return
	}
	if !bytes.Equal(embedded, payloadBytes) {
		r.fail(CheckPayloadHash, "receipt payload differs from %s", domain.EntryPayload)
		return
	}
	if got := digest.Hex(payloadBytes); got != receipt.PayloadHash {
		r.fail(CheckPayloadHash, "receipt has %s, computed %s", receipt.PayloadHash, got)
		return
	}
	r.pass(CheckPayloadHash)
}

// checkSignatures fails a receipt that lost its signatures: one whose issuer
// names a real key, or any receipt when the caller holds a public key.
func checkSignatures(r *Report, receiptTree any, issuerKeyID string, sigs []domain.SignatureBlock, pub ed25519.PublicKey) {
	if len(sigs) == 0 {
		switch {
		case pub != nil:
			r.fail(CheckSignature, "expected a signature, receipt is unsigned")
		case issuerKeyID != signer.NoopKeyID:
			r.fail(CheckSignature, "issuer key %s but no signature", issuerKeyID)
		default:
			r.skip(CheckSignature, "unsigned")
		}
		return
	}
	for _, sig := range sigs {
		if sig.KeyID != issuerKeyID {
			r.fail(CheckSignature, "signature key %s does not match issuer key %s", sig.KeyID, issuerKeyID)
			return
		}
	}
	if pub == nil {
		r.skip(CheckSignature, "no public key")
		return
	}
	payload, err := canonical.EncodeWithout(receiptTree, domain.FieldSignatures, domain.FieldBundleHash)
	if err != nil {
		r.fail(CheckSignature, "%v", err)
		return
	}
	for _, sig := range sigs {
		if err := signer.Verify(sig, payload, pub); err != nil {
			r.fail(CheckSignature, "key %s: %v", sig.KeyID, err)
			return
		}
	}
	r.pass(CheckSignature)
}

func receiptSchemaVersion(receiptTree any) string {
	m, _ := receiptTree.(map[string]any)
	version, _ := m[domain.FieldSchemaVersion].(string)
	return version
}

func sameJSON(a, b any) bool {
	ea, errA := canonical.Encode(a)
	eb, errB := canonical.Encode(b)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func checkBundleHash(r *Report, manifestBytes []byte, receiptTree any) {
	manifestTree, err := canonical.Decode(manifestBytes)
	if err != nil {
		r.fail(CheckBundleHash, "%v", err)
		return
	}
	want, err := digest.Canonical(manifestTree)
	if err != nil {
		r.fail(CheckBundleHash, "%v", err)
		return
	}
	var got string
	if m, ok := receiptTree.(map[string]any); ok {
		got, _ = m[domain.FieldBundleHash].(string)
	}
	if got != want {
		r.fail(CheckBundleHash, "receipt has %q, manifest digest is %s", got, want)
		return
	}
	r.pass(CheckBundleHash)
}
