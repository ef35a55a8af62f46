package domain

// Bundle modes.
const (
	ModeRecord   = "record"
	ModeSnapshot = "snapshot"
)

// RecorderVersion is written into every bundle's meta.json.
const RecorderVersion = "0.1"

// Archive entry names.
const (
	EntryMeta            = "meta.json"
	EntryManifest        = "bundle_manifest.json"
	EntrySessionReceipt  = "session_receipt.json"
	EntrySnapshotReceipt = "snapshot_receipt.json"
	EntryEvents          = "events.json"
	EntryPayload         = "payload.json"
	EntryRawContent      = "raw_content.txt"
	EntryVerificationLog = "verification_log.json"
)

// Meta describes how and where a bundle was produced.
type Meta struct {
	CreatedAt    string  `json:"created_at"`
	SourceURL    *string `json:"source_url"`
	Domain       *string `json:"domain"`
	ValetVersion string  `json:"valet_version"`
	Mode         string  `json:"mode"`
	MachineID    string  `json:"machine_id"`
}

// BundleManifest binds every archived artifact by digest. Its canonical
// digest is the receipt's bundle_hash.
type BundleManifest struct {
	SchemaVersion    string       `json:"schema_version"`
	Mode             string       `json:"mode"`
	MetaSHA256       string       `json:"meta_sha256"`
	ReceiptSHA256    string       `json:"receipt_sha256"`
	EventsSHA256     string       `json:"events_sha256,omitempty"`  // session only
	PayloadSHA256    string       `json:"payload_sha256,omitempty"` // snapshot only
	RawContentSHA256 *string      `json:"raw_content_sha256"`
	Attachments      []Attachment `json:"attachments"`
}

// VerificationLog lists, for humans, the checks a verifier should run.
type VerificationLog struct {
	Steps   []string `json:"steps"`
	Success bool     `json:"success"`
}
