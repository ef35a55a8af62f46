// Package chain implements the event hash chain: each event's hash covers
// its own fields and the raw bytes of its predecessor's hash, so editing,
// reordering, inserting or deleting an event breaks every later hash.
package chain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
)

// Genesis is the prev_event_hash of the first event.
var Genesis = digest.Zero

// ErrEncoding wraps payloads that cannot be canonically encoded.
var ErrEncoding = errors.New("chain: payload cannot be canonically encoded")

// PayloadHash hashes the canonical encoding of payload alone.
func PayloadHash(payload any) (string, error) {
	h, err := digest.Canonical(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return h, nil
}

// EventHash computes sha256(canonical(body) || rawbytes(prev_event_hash)).
func EventHash(body domain.EventBody) (string, error) {
	prev, err := hex.DecodeString(body.PrevEventHash)
	if err != nil || len(prev) != digest.Size {
		return "", fmt.Errorf("chain: prev_event_hash %q is not a %d-byte hex digest", body.PrevEventHash, digest.Size)
	}
	encoded, err := canonical.Encode(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return digest.Concat(encoded, prev), nil
}

// TranscriptHash hashes the canonical encoding of the full ordered event
// list. It equals the digest of a bundle's events.json.
func TranscriptHash(events []domain.Event) (string, error) {
	if events == nil {
		events = []domain.Event{}
	}
	h, err := digest.Canonical(events)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return h, nil
}

// Chain is an append-only event sequence. Links are hash values, not
// pointers, so an event never references another by address.
type Chain struct {
	events []domain.Event
}

// Len returns the number of events.
func (c *Chain) Len() int { return len(c.events) }

// Head returns the event_hash of the last event, or Genesis.
func (c *Chain) Head() string {
	if len(c.events) == 0 {
		return Genesis
	}
	return c.events[len(c.events)-1].EventHash
}

// Events returns a copy of the event list.
func (c *Chain) Events() []domain.Event {
	out := make([]domain.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Append hashes and appends a new event. The payload is normalized first, so
// a payload that cannot be encoded is rejected before the chain changes and
// later mutation of the caller's value cannot alter the recorded event.
func (c *Chain) Append(ts, eventType string, payload any, attachments []domain.Attachment) (domain.Event, error) {
	normalized, err := canonical.Normalize(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	payloadHash, err := PayloadHash(normalized)
	if err != nil {
		return domain.Event{}, err
	}
	if attachments == nil {
		attachments = []domain.Attachment{}
	} else {
		attachments = append([]domain.Attachment(nil), attachments...)
	}

	event := domain.Event{
		Seq:           len(c.events) + 1,
		TS:            ts,
		Type:          eventType,
		Payload:       normalized,
		Attachments:   attachments,
		PrevEventHash: c.Head(),
		PayloadHash:   payloadHash,
	}
	event.EventHash, err = EventHash(event.Body())
	if err != nil {
		return domain.Event{}, err
	}
	c.events = append(c.events, event)
	return event, nil
}
