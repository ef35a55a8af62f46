package domain

// Schema identifiers written into receipts and manifests.
const (
	SessionSchemaVersion  = "halo.session.v1"
	SnapshotSchemaVersion = "halo.snapshot.v1"
	ManifestSchemaVersion = "halo.bundle_manifest.v1"
)

// DefaultSnapshotType is the type tag of snapshot receipts unless overridden.
const DefaultSnapshotType = "ai.snapshot"

// SignatureBlock is a detached signature over a receipt's signed payload.
type SignatureBlock struct {
	Alg           string `json:"alg"`
	KeyID         string `json:"key_id"`
	Sig           string `json:"sig"`            // base64url, unpadded
	SignedPayload string `json:"signed_payload"` // base64url of the exact signed bytes
	PayloadHash   string `json:"payload_hash"`   // hex digest of the signed bytes
}

// Issuer identifies the producing service and its signing key.
type Issuer struct {
	Service string `json:"service"`
	KeyID   string `json:"key_id"`
}

// SessionReceipt summarizes a closed recording session.
type SessionReceipt struct {
	SchemaVersion        string           `json:"schema_version"`
	SessionID            string           `json:"session_id"`
	StartedAt            string           `json:"started_at"`
	EndedAt              string           `json:"ended_at"`
	Issuer               Issuer           `json:"issuer"`
	Subject              map[string]any   `json:"subject"`
	Events               []EventSummary   `json:"events"`
	TranscriptHash       string           `json:"transcript_hash"`
	BundleManifestSchema string           `json:"bundle_manifest_schema"`
	BundleHash           string           `json:"bundle_hash"`
	Signatures           []SignatureBlock `json:"signatures"`
}

// SnapshotReceipt is the single-event counterpart of SessionReceipt.
type SnapshotReceipt struct {
	SchemaVersion        string           `json:"schema_version"`
	SnapshotID           string           `json:"snapshot_id"`
	CapturedAt           string           `json:"captured_at"`
	Issuer               Issuer           `json:"issuer"`
	Subject              map[string]any   `json:"subject"`
	Type                 string           `json:"type"`
	Payload              any              `json:"payload"`
	PayloadHash          string           `json:"payload_hash"`
	BundleManifestSchema string           `json:"bundle_manifest_schema"`
	Signatures           []SignatureBlock `json:"signatures"`
	BundleHash           string           `json:"bundle_hash"`
}

// Receipt fields excluded from the signed payload and from receipt_sha256.
const (
	FieldSignatures = "signatures"
	FieldBundleHash = "bundle_hash"
)

// FieldSchemaVersion names the receipt schema field.
const FieldSchemaVersion = "schema_version"
