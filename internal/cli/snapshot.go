package cli

import (
	"fmt"
	"os"

	"github.com/vburojevic/valet/internal/execution"
	"github.com/vburojevic/valet/internal/payload"
	"github.com/vburojevic/valet/internal/recorder"
)

// SnapshotCmd captures a structured payload as a snapshot bundle.
type SnapshotCmd struct {
	Input       string `short:"i" required:"" placeholder:"FILE" help:"Payload file (JSON, YAML or plist); - reads stdin"`
	InputFormat string `name:"input-format" placeholder:"json|yaml|plist" help:"Input format (default: from file extension, else json)"`
	RawText     string `name:"raw-text" type:"existingfile" placeholder:"FILE" help:"Text stored verbatim as raw_content.txt"`
	Type        string `short:"t" help:"Snapshot type tag (default: ai.snapshot)"`

	BundleFlags `embed:""`
}

// Run executes the snapshot command.
func (c *SnapshotCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}

	format, err := payload.ParseFormat(c.InputFormat)
	if err != nil {
		return outputErrorCommon(globals, codeInvalidFlags, err.Error())
	}
	var tree any
	if c.Input == "-" {
		if format == "" {
			format = payload.FormatJSON
		}
		tree, err = payload.Read(globals.Stdin, "stdin", format)
	} else {
		tree, err = payload.ReadFile(c.Input, format)
	}
	if err != nil {
		return outputErrorCommon(globals, codeInvalidInput, err.Error(), "check --input and --input-format")
	}

	logger := newLogger(globals)
	defer func() { _ = logger.Sync() }()

	recOpts, sg, err := recorderOptions(globals, logger, c.BundleFlags)
	if err != nil {
		return outputFailure(globals, err, codeInvalidKey, "check signing.key_id and signing.private_key")
	}
	if c.Type != "" {
		recOpts = append(recOpts, recorder.WithSnapshotType(c.Type))
	}
	rawOpt, err := rawTextOption(c.RawText)
	if err != nil {
		return outputErrorCommon(globals, codeInvalidInput, err.Error())
	}
	if rawOpt != nil {
		recOpts = append(recOpts, rawOpt)
	}

	path, receipt, err := recorder.CreateSnapshot(tree, c.outputDir(globals), c.machineID(globals), recOpts...)
	if err != nil {
		return outputFailure(globals, err, codeExportFailed)
	}
	return writeBundle(globals, snapshotOutput(path, receipt, sg))
}

// ExecCmd runs a command and snapshots its result.
type ExecCmd struct {
	Command []string `arg:"" passthrough:"" help:"Command to run (after --)"`
	RawText string   `name:"raw-text" type:"existingfile" placeholder:"FILE" help:"Text stored verbatim as raw_content.txt"`
	Type    string   `short:"t" help:"Snapshot type tag (default: ai.snapshot)"`

	BundleFlags `embed:""`
	ExecFlags   `embed:""`
}

// Run executes the exec command.
func (c *ExecCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	if len(c.Command) == 0 {
		return outputErrorCommon(globals, codeInvalidFlags, "missing command", "pass -- CMD ARGS...")
	}

	logger := newLogger(globals)
	defer func() { _ = logger.Sync() }()

	recOpts, sg, err := recorderOptions(globals, logger, c.BundleFlags)
	if err != nil {
		return outputFailure(globals, err, codeInvalidKey, "check signing.key_id and signing.private_key")
	}
	if c.Type != "" {
		recOpts = append(recOpts, recorder.WithSnapshotType(c.Type))
	}
	rawOpt, err := rawTextOption(c.RawText)
	if err != nil {
		return outputErrorCommon(globals, codeInvalidInput, err.Error())
	}
	if rawOpt != nil {
		recOpts = append(recOpts, rawOpt)
	}
	execOpts, err := c.ExecFlags.options(globals, logger)
	if err != nil {
		return outputErrorCommon(globals, codeConfigFailed, err.Error())
	}

	ctx, cancel := signalContext()
	defer cancel()

	path, receipt, res, err := execution.Snapshot(ctx, c.Command, execOpts, c.outputDir(globals), c.machineID(globals), recOpts...)
	if err != nil {
		if res == nil {
			return outputFailure(globals, err, codeCommandFailed)
		}
		return outputFailure(globals, err, codeExportFailed)
	}
	return writeBundle(globals, snapshotOutput(path, receipt, sg))
}

func rawTextOption(path string) (recorder.Option, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw text: %w", err)
	}
	return recorder.WithRawText(string(b)), nil
}
