package cli

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/execution"
	"github.com/vburojevic/valet/internal/recorder"
)

// maxEventLine bounds one NDJSON line of --events input.
const maxEventLine = 16 << 20

// RecordCmd records a session: NDJSON events from --events, then at most one
// command run, then exports the bundle.
type RecordCmd struct {
	Events  string   `short:"e" placeholder:"FILE" help:"NDJSON events ({\"type\",\"payload\"} per line); - reads stdin"`
	Command []string `arg:"" optional:"" passthrough:"" help:"Command to run and record (after --)"`

	BundleFlags `embed:""`
	ExecFlags   `embed:""`
}

// eventLine is one line of --events input.
type eventLine struct {
	Type        string           `json:"type"`
	Payload     json.RawMessage  `json:"payload"`
	TS          string           `json:"ts,omitempty"`
	Attachments []attachmentLine `json:"attachments,omitempty"`
}

type attachmentLine struct {
	Name       string `json:"name"`
	MIME       string `json:"mime,omitempty"`
	ContentB64 string `json:"content_b64"`
}

// Run executes the record command.
func (c *RecordCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	if c.Events == "" && len(c.Command) == 0 {
		return outputErrorCommon(globals, codeInvalidFlags, "nothing to record", "pass --events FILE and/or -- CMD ARGS...")
	}

	logger := newLogger(globals)
	defer func() { _ = logger.Sync() }()

	recOpts, sg, err := recorderOptions(globals, logger, c.BundleFlags)
	if err != nil {
		return outputFailure(globals, err, codeInvalidKey, "check signing.key_id and signing.private_key")
	}
	execOpts, err := c.ExecFlags.options(globals, logger)
	if err != nil {
		return outputErrorCommon(globals, codeConfigFailed, err.Error())
	}

	session, err := recorder.NewSession(c.machineID(globals), recOpts...)
	if err != nil {
		return outputFailure(globals, err, codeInvalidState)
	}
	if err := session.Start(); err != nil {
		return outputFailure(globals, err, codeInvalidState)
	}

	if c.Events != "" {
		r, closeFn, err := c.openEvents(globals)
		if err != nil {
			return outputErrorCommon(globals, codeInvalidInput, err.Error())
		}
		err = recordEvents(session, r)
		closeFn()
		if err != nil {
			return outputFailure(globals, err, codeInvalidInput)
		}
	}

	if len(c.Command) > 0 {
		ctx, cancel := signalContext()
		defer cancel()
		execOpts.Recorder = session
		if _, err := execution.Run(ctx, c.Command, execOpts); err != nil {
			return outputFailure(globals, err, codeCommandFailed)
		}
	}

	path, receipt, err := session.StopAndExport(c.outputDir(globals))
	if err != nil {
		return outputFailure(globals, err, codeExportFailed)
	}
	return writeBundle(globals, sessionOutput(path, receipt, sg))
}

func (c *RecordCmd) openEvents(globals *Globals) (io.Reader, func(), error) {
	if c.Events == "-" {
		if globals.Stdin == nil {
			return nil, nil, fmt.Errorf("no stdin available for --events -")
		}
		return globals.Stdin, func() {}, nil
	}
	f, err := os.Open(c.Events)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// recordEvents appends one event per non-blank NDJSON line.
func recordEvents(session *recorder.Session, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := recordLine(session, line); err != nil {
			return fmt.Errorf("events line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func recordLine(session *recorder.Session, line []byte) error {
	var ev eventLine
	if err := json.Unmarshal(line, &ev); err != nil {
		return err
	}
	if strings.TrimSpace(ev.Type) == "" {
		return fmt.Errorf("missing event type")
	}
	var payload any
	if len(ev.Payload) > 0 {
		decoded, err := canonical.Decode(ev.Payload)
		if err != nil {
			return err
		}
		payload = decoded
	}

	var opts []recorder.EventOption
	if ev.TS != "" {
		opts = append(opts, recorder.At(ev.TS))
	}
	for _, a := range ev.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.ContentB64)
		if err != nil {
			return fmt.Errorf("attachment %q: %w", a.Name, err)
		}
		opts = append(opts, recorder.WithAttachments(recorder.Attachment{Name: a.Name, MIME: a.MIME, Content: content}))
	}
	_, err := session.RecordEvent(ev.Type, payload, opts...)
	return err
}
