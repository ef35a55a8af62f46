// Package execution runs external commands and records them as HALO events
// or snapshots.
package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/recorder"
)

// Event types emitted for a command run.
const (
	EventCommandRequest = "command.request"
	EventCommandResult  = "command.result"
)

// waitDelay bounds how long Run waits for output pipes after the process
// is killed.
const waitDelay = 2 * time.Second

// Recorder receives command events. *recorder.Session implements it.
type Recorder interface {
	IsRecording() bool
	RecordEvent(eventType string, payload any, opts ...recorder.EventOption) (domain.Event, error)
}

// Options configures Run.
type Options struct {
	Dir string // working directory; defaults to the current one
	// EnvAllowlist restricts the child environment to these variables.
	// Empty inherits the full environment.
	EnvAllowlist []string
	Stdin        io.Reader
	Timeout      time.Duration
	// Recorder, when recording, receives command.request and command.result.
	Recorder  Recorder
	Rationale string
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Result is the outcome of a finished command. A non-zero exit code is a
// result, not an error.
type Result struct {
	Cmd        []string `json:"cmd"`
	Cwd        string   `json:"cwd"`
	ExitCode   int      `json:"exit_code"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	DurationMS int64    `json:"duration_ms"`
}

type requestPayload struct {
	Cmd          []string `json:"cmd"`
	Cwd          string   `json:"cwd"`
	EnvAllowlist []string `json:"env_allowlist"`
	StdinPresent bool     `json:"stdin_present"`
	Rationale    string   `json:"rationale,omitempty"`
}

type resultPayload struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

// Run executes argv and waits for it. It fails only when the command cannot
// be started, times out or is cancelled, or its events cannot be recorded.
func Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("execution: missing command argv")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cwd := opts.Dir
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("execution: resolve working directory: %w", err)
		}
		cwd = wd
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = allowedEnv(opts.EnvAllowlist)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := clk.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("execution: start %s: %w", argv[0], err)
	}
	waitErr := cmd.Wait()
	duration := clk.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("execution: %s: %w", argv[0], ctxErr)
	}
	exitCode := 0
	if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return nil, fmt.Errorf("execution: wait %s: %w", argv[0], waitErr)
		}
		exitCode = ee.ExitCode()
	}

	res := &Result{
		Cmd:        append([]string(nil), argv...),
		Cwd:        cwd,
		ExitCode:   exitCode,
		Stdout:     repairUTF8(stdout.Bytes()),
		Stderr:     repairUTF8(stderr.Bytes()),
		DurationMS: duration.Milliseconds(),
	}
	logger.Debug("command finished",
		zap.Strings("cmd", res.Cmd),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("duration_ms", res.DurationMS))

	if opts.Recorder != nil && opts.Recorder.IsRecording() {
		if err := record(opts, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func record(opts Options, res *Result) error {
	allowlist := opts.EnvAllowlist
	if allowlist == nil {
		allowlist = []string{}
	}
	req := requestPayload{
		Cmd:          res.Cmd,
		Cwd:          res.Cwd,
		EnvAllowlist: allowlist,
		StdinPresent: opts.Stdin != nil,
		Rationale:    opts.Rationale,
	}
	if _, err := opts.Recorder.RecordEvent(EventCommandRequest, req); err != nil {
		return fmt.Errorf("execution: record %s: %w", EventCommandRequest, err)
	}
	out := resultPayload{
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMS: res.DurationMS,
	}
	if _, err := opts.Recorder.RecordEvent(EventCommandResult, out); err != nil {
		return fmt.Errorf("execution: record %s: %w", EventCommandResult, err)
	}
	return nil
}

// allowedEnv returns nil (inherit everything) for an empty allowlist and
// otherwise only the allowlisted variables that are set.
func allowedEnv(allowlist []string) []string {
	if len(allowlist) == 0 {
		return nil
	}
	env := []string{}
	for _, name := range allowlist {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// repairUTF8 replaces every invalid byte with U+FFFD.
func repairUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}
