package chain

import (
	"fmt"

	"github.com/vburojevic/valet/internal/domain"
)

// LinkError locates the first broken link in an event list.
type LinkError struct {
	Index  int // 0-based position in the list
	Seq    int
	Reason string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("chain: event %d (seq %d): %s", e.Index, e.Seq, e.Reason)
}

// Verify recomputes every payload_hash and event_hash and checks sequence
// numbers and prev_event_hash linkage.
func Verify(events []domain.Event) error {
	prev := Genesis
	for i, e := range events {
		if e.Seq != i+1 {
			return &LinkError{Index: i, Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", i+1)}
		}
		if e.PrevEventHash != prev {
			return &LinkError{Index: i, Seq: e.Seq, Reason: "prev_event_hash does not match predecessor"}
		}
		payloadHash, err := PayloadHash(e.Payload)
		if err != nil {
			return &LinkError{Index: i, Seq: e.Seq, Reason: err.Error()}
		}
		if payloadHash != e.PayloadHash {
			return &LinkError{Index: i, Seq: e.Seq, Reason: "payload_hash mismatch"}
		}
		eventHash, err := EventHash(e.Body())
		if err != nil {
			return &LinkError{Index: i, Seq: e.Seq, Reason: err.Error()}
		}
		if eventHash != e.EventHash {
			return &LinkError{Index: i, Seq: e.Seq, Reason: "event_hash mismatch"}
		}
		prev = e.EventHash
	}
	return nil
}
