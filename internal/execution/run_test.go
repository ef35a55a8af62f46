package execution

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/recorder"
	"github.com/vburojevic/valet/internal/signer"
)

func mockClock() *clock.Mock {
	m := clock.NewMock()
	m.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return m
}

func newSession(t *testing.T) *recorder.Session {
	t.Helper()
	s, err := recorder.NewSession("m",
		recorder.WithClock(mockClock()),
		recorder.WithIDGenerator(func() string { return "exec-1" }),
		recorder.WithSigner(signer.Noop{}))
	require.NoError(t, err)
	return s
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	res, err := Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, res.Cmd)
}

func TestRunRecordsEventsWhileRecording(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newSession(t)
	require.NoError(t, s.Start())

	dir := t.TempDir()
	_, err := Run(context.Background(), []string{"sh", "-c", "echo hi"}, Options{
		Dir:       dir,
		Recorder:  s,
		Rationale: "check greeting",
		Clock:     mockClock(),
	})
	require.NoError(t, err)

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventCommandRequest, events[0].Type)
	assert.Equal(t, EventCommandResult, events[1].Type)

	req := events[0].Payload.(map[string]any)
	assert.Equal(t, []any{"sh", "-c", "echo hi"}, req["cmd"])
	assert.Equal(t, dir, req["cwd"])
	assert.Equal(t, []any{}, req["env_allowlist"])
	assert.Equal(t, false, req["stdin_present"])
	assert.Equal(t, "check greeting", req["rationale"])

	out := events[1].Payload.(map[string]any)
	assert.Equal(t, "hi\n", out["stdout"])
	assert.Equal(t, "", out["stderr"])
	assert.Equal(t, json.Number("0"), out["exit_code"])
	assert.Equal(t, json.Number("0"), out["duration_ms"])

	path, _, err := s.StopAndExport(t.TempDir())
	require.NoError(t, err)
	report, err := bundle.Verify(path, bundle.VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK, "%+v", report.Failed())
}

func TestRunOmitsRationaleWhenEmpty(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Start())

	_, err := Run(context.Background(), []string{"true"}, Options{Recorder: s, Stdin: strings.NewReader("")})
	require.NoError(t, err)

	req := s.Events()[0].Payload.(map[string]any)
	assert.NotContains(t, req, "rationale")
	assert.Equal(t, true, req["stdin_present"])
}

func TestRunIgnoresIdleRecorder(t *testing.T) {
	s := newSession(t)
	_, err := Run(context.Background(), []string{"true"}, Options{Recorder: s})
	require.NoError(t, err)
	assert.Empty(t, s.Events())
}

func TestRunEnvAllowlist(t *testing.T) {
	t.Setenv("VALET_TEST_KEEP", "yes")
	t.Setenv("VALET_TEST_DROP", "no")

	res, err := Run(context.Background(), []string{"sh", "-c", `echo "$VALET_TEST_KEEP-$VALET_TEST_DROP"`},
		Options{EnvAllowlist: []string{"VALET_TEST_KEEP", "VALET_TEST_UNSET"}})
	require.NoError(t, err)
	assert.Equal(t, "yes-\n", res.Stdout)
}

func TestRunPassesStdin(t *testing.T) {
	res, err := Run(context.Background(), []string{"cat"}, Options{Stdin: strings.NewReader("hello")})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Stdout)
}

func TestRunRepairsInvalidUTF8(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", `printf '\377ok'`}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "\uFFFDok", res.Stdout)
}

func TestRunTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newSession(t)
	require.NoError(t, s.Start())

	_, err := Run(context.Background(), []string{"sleep", "5"}, Options{Timeout: 50 * time.Millisecond, Recorder: s})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, s.Events())
}

func TestRunRejectsBadInvocations(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{})
	require.Error(t, err)

	_, err = Run(context.Background(), []string{"valet-definitely-not-a-binary"}, Options{})
	require.Error(t, err)
}

func TestRepairUTF8(t *testing.T) {
	assert.Equal(t, "plain", repairUTF8([]byte("plain")))
	assert.Equal(t, "a\uFFFD\uFFFDb", repairUTF8([]byte("a\xff\xfeb")))
	assert.Equal(t, "日本", repairUTF8([]byte("日本")))
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	path, receipt, res, err := Snapshot(context.Background(), []string{"sh", "-c", "echo snap"},
		Options{Clock: mockClock()}, dir, "m",
		recorder.WithClock(mockClock()),
		recorder.WithIDGenerator(func() string { return "snap-1" }),
		recorder.WithSigner(signer.Noop{}))
	require.NoError(t, err)
	assert.Equal(t, "snap\n", res.Stdout)
	assert.Equal(t, "snap-1", receipt.SnapshotID)

	a, err := bundle.Open(path)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, a.Decode(domain.EntryPayload, &payload))
	assert.Equal(t, SnapshotKind, payload["kind"])
	assert.Equal(t, "snap\n", payload["stdout"])
}
