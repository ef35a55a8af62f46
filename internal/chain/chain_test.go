package chain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/digest"
	"github.com/vburojevic/valet/internal/domain"
)

const fixedTS = "2024-01-01T12:00:00Z"

func twoEventChain(t *testing.T) *Chain {
	t.Helper()
	c := &Chain{}
	_, err := c.Append(fixedTS, "command.request", map[string]any{"cmd": "echo", "args": []any{"hello"}}, nil)
	require.NoError(t, err)
	_, err = c.Append(fixedTS, "command.result", map[string]any{"result": "hello"}, nil)
	require.NoError(t, err)
	return c
}

// Vectors computed independently with sorted-key compact JSON + SHA-256.
func TestAppendMatchesReferenceVectors(t *testing.T) {
	events := twoEventChain(t).Events()
	require.Len(t, events, 2)

	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, strings.Repeat("0", 64), events[0].PrevEventHash)
	assert.Equal(t, "445b2c769c63102aa55579abdd1a7566eb5f2e1e68b3a5a64b08a81c2ba1febf", events[0].PayloadHash)
	assert.Equal(t, "fe4da5d6ce6f779a93682d2976162b2549b9c9b046e8c006671f28dab48bff10", events[0].EventHash)

	assert.Equal(t, 2, events[1].Seq)
	assert.Equal(t, events[0].EventHash, events[1].PrevEventHash)
	assert.Equal(t, "b6c28b98ff60801d7a833eadfcfacecc97a78513ac9365c0ab3785e47d5baeeb", events[1].PayloadHash)
	assert.Equal(t, "6ba11ff136f669f0089f1339b84e32ef24143d45ecfd50a6793771f5aa6f3c27", events[1].EventHash)

	transcript, err := TranscriptHash(events)
	require.NoError(t, err)
	assert.Equal(t, "026278dae5eee987b89f4bce72c8fda64be2c7e912f024157d042a8489b1706d", transcript)
}

func TestHeadTracksLastEvent(t *testing.T) {
	c := &Chain{}
	assert.Equal(t, Genesis, c.Head())
	e, err := c.Append(fixedTS, "x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, e.EventHash, c.Head())
	assert.Equal(t, 1, c.Len())
}

func TestAppendRejectsUnencodablePayloadWithoutChangingChain(t *testing.T) {
	c := twoEventChain(t)
	head := c.Head()

	_, err := c.Append(fixedTS, "bad", map[string]any{"fn": func() {}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncoding))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, head, c.Head())
}

func TestAppendIsolatesCallerMutation(t *testing.T) {
	c := &Chain{}
	payload := map[string]any{"k": "v"}
	_, err := c.Append(fixedTS, "x", payload, nil)
	require.NoError(t, err)

	payload["k"] = "changed"
	require.NoError(t, Verify(c.Events()))
}

func TestEventsReturnsCopy(t *testing.T) {
	c := twoEventChain(t)
	events := c.Events()
	events[0].Type = "tampered"
	assert.Equal(t, "command.request", c.Events()[0].Type)
}

func TestVerifyAcceptsDecodedEvents(t *testing.T) {
	c := &Chain{}
	_, err := c.Append(fixedTS, "x", map[string]any{"f": 1.5, "n": 3, "s": "ü"}, []domain.Attachment{{Name: "a.txt", SHA256: digest.Hex([]byte("a")), SizeBytes: 1, MIME: "text/plain", PathInBundle: "attachments/1/a.txt"}})
	require.NoError(t, err)

	encoded, err := canonical.Encode(c.Events())
	require.NoError(t, err)

	var decoded []domain.Event
	tree, err := canonical.Decode(encoded)
	require.NoError(t, err)
	reencoded, err := canonical.Encode(tree)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)

	decoded = decodeEvents(t, encoded)
	require.NoError(t, Verify(decoded))
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]domain.Event) []domain.Event
		index  int
	}{
		{"payload edit", func(ev []domain.Event) []domain.Event {
			ev[0].Payload = map[string]any{"cmd": "rm"}
			return ev
		}, 0},
		{"type edit", func(ev []domain.Event) []domain.Event {
			ev[1].Type = "other"
			return ev
		}, 1},
		{"timestamp edit", func(ev []domain.Event) []domain.Event {
			ev[0].TS = "2030-01-01T00:00:00Z"
			return ev
		}, 0},
		{"reorder", func(ev []domain.Event) []domain.Event {
			return []domain.Event{ev[1], ev[0]}
		}, 0},
		{"deletion", func(ev []domain.Event) []domain.Event {
			return ev[1:]
		}, 0},
		{"rehashed edit breaks successor", func(ev []domain.Event) []domain.Event {
			ev[0].Payload = map[string]any{"cmd": "rm"}
			ev[0].PayloadHash, _ = PayloadHash(ev[0].Payload)
			ev[0].EventHash, _ = EventHash(ev[0].Body())
			return ev
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := tt.mutate(twoEventChain(t).Events())
			err := Verify(events)
			require.Error(t, err)
			var linkErr *LinkError
			require.True(t, errors.As(err, &linkErr))
			assert.Equal(t, tt.index, linkErr.Index)
		})
	}
}

func TestTranscriptHashChangesWithOrder(t *testing.T) {
	events := twoEventChain(t).Events()
	a, err := TranscriptHash(events)
	require.NoError(t, err)
	b, err := TranscriptHash([]domain.Event{events[1], events[0]})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	empty, err := TranscriptHash(nil)
	require.NoError(t, err)
	assert.Equal(t, digest.Hex([]byte("[]")), empty)
}

func TestEventHashRejectsMalformedPrev(t *testing.T) {
	_, err := EventHash(domain.EventBody{Seq: 1, PrevEventHash: "xyz"})
	require.Error(t, err)
}
