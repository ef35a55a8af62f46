// Package output renders CLI results as NDJSON for machines or as styled
// text for people.
package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/vburojevic/valet/internal/bundle"
)

// SchemaVersion is the version of every NDJSON record shape.
const SchemaVersion = 1

// NDJSONWriter writes one JSON object per line.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter creates a writer on w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &NDJSONWriter{enc: enc}
}

// Write encodes v as a single line.
func (w *NDJSONWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// ErrorOutput is the machine-readable failure record.
type ErrorOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// WriteError writes an error record; the first non-empty hint is kept.
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	out := ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	for _, h := range hint {
		if h != "" {
			out.Hint = h
			break
		}
	}
	return w.Write(out)
}

// BundleOutput announces a written bundle.
type BundleOutput struct {
	Type           string `json:"type"`
	SchemaVersion  int    `json:"schemaVersion"`
	Mode           string `json:"mode"`
	ID             string `json:"id"`
	Path           string `json:"path"`
	BundleHash     string `json:"bundle_hash"`
	TranscriptHash string `json:"transcript_hash,omitempty"`
	PayloadHash    string `json:"payload_hash,omitempty"`
	Events         int    `json:"events,omitempty"`
	KeyID          string `json:"key_id"`
	Signed         bool   `json:"signed"`
}

// WriteBundle writes a bundle record.
func (w *NDJSONWriter) WriteBundle(b *BundleOutput) error {
	b.Type = "bundle"
	b.SchemaVersion = SchemaVersion
	return w.Write(b)
}

// ReportOutput is a bundle verification report.
type ReportOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	*bundle.Report
}

// WriteReport writes a verification report record.
func (w *NDJSONWriter) WriteReport(r *bundle.Report) error {
	return w.Write(ReportOutput{Type: "verify", SchemaVersion: SchemaVersion, Report: r})
}
