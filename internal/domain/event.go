package domain

// Attachment describes binary side-content stored next to an event.
type Attachment struct {
	Name         string `json:"name"`
	SHA256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	MIME         string `json:"mime"`
	PathInBundle string `json:"path_in_bundle"`
}

// Event is one recorded occurrence, linked to its predecessor by hash.
type Event struct {
	Seq           int          `json:"seq"`             // 1-based, assigned at record time
	TS            string       `json:"ts"`              // UTC, second precision
	Type          string       `json:"type"`            // caller-defined kind, e.g. "command.request"
	Payload       any          `json:"payload"`         // opaque JSON value
	Attachments   []Attachment `json:"attachments"`     // never nil once recorded
	PrevEventHash string       `json:"prev_event_hash"` // event_hash of seq-1, or 64 zeros
	EventHash     string       `json:"event_hash"`
	PayloadHash   string       `json:"payload_hash"`
}

// EventBody is the part of an Event covered by its event_hash.
type EventBody struct {
	Seq           int          `json:"seq"`
	TS            string       `json:"ts"`
	Type          string       `json:"type"`
	Payload       any          `json:"payload"`
	Attachments   []Attachment `json:"attachments"`
	PrevEventHash string       `json:"prev_event_hash"`
}

// Body returns the hashed subset of e.
func (e Event) Body() EventBody {
	attachments := e.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	return EventBody{
		Seq:           e.Seq,
		TS:            e.TS,
		Type:          e.Type,
		Payload:       e.Payload,
		Attachments:   attachments,
		PrevEventHash: e.PrevEventHash,
	}
}

// EventSummary is the lightweight per-event entry carried by a session receipt.
type EventSummary struct {
	Seq         int    `json:"seq"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	PayloadHash string `json:"payload_hash"`
	EventHash   string `json:"event_hash"`
}

// Summary returns the receipt summary of e.
func (e Event) Summary() EventSummary {
	return EventSummary{
		Seq:         e.Seq,
		TS:          e.TS,
		Type:        e.Type,
		PayloadHash: e.PayloadHash,
		EventHash:   e.EventHash,
	}
}
