package chain

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/valet/internal/domain"
)

func decodeEvents(t *testing.T, b []byte) []domain.Event {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var events []domain.Event
	require.NoError(t, dec.Decode(&events))
	return events
}
