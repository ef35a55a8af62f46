package recorder

import (
	"errors"
	"fmt"

	"github.com/vburojevic/valet/internal/chain"
)

// ErrInvalidState is returned when an operation is called outside its
// lifecycle state.
var ErrInvalidState = errors.New("recorder: invalid state")

// ErrEncoding is returned for payloads without a canonical encoding.
var ErrEncoding = chain.ErrEncoding

// ErrInvalidAttachment is returned for unusable attachment names.
var ErrInvalidAttachment = errors.New("recorder: invalid attachment")

// StateError names the rejected operation and the state it was called in.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("recorder: %s not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

func wrapEncoding(err error) error {
	return fmt.Errorf("%w: %w", ErrEncoding, err)
}
