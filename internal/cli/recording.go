package cli

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/execution"
	"github.com/vburojevic/valet/internal/output"
	"github.com/vburojevic/valet/internal/recorder"
	"github.com/vburojevic/valet/internal/signer"
)

// BundleFlags are shared by every command that writes a bundle.
type BundleFlags struct {
	OutputDir string `short:"o" type:"path" help:"Directory for the bundle (default: config output_dir)"`
	MachineID string `help:"Machine identifier recorded in the subject (default: config machine_id)"`
	SourceURL string `name:"source-url" help:"Source URL recorded in meta.json"`
}

func (f BundleFlags) outputDir(globals *Globals) string {
	if f.OutputDir != "" {
		return f.OutputDir
	}
	if globals.Config != nil && globals.Config.OutputDir != "" {
		return globals.Config.OutputDir
	}
	return "."
}

func (f BundleFlags) machineID(globals *Globals) string {
	if f.MachineID != "" {
		return f.MachineID
	}
	if globals.Config != nil && globals.Config.MachineID != "" {
		return globals.Config.MachineID
	}
	return "unknown"
}

// ExecFlags configure a command run.
type ExecFlags struct {
	Env       []string      `help:"Environment variables passed to the command (default: config exec.env_allowlist, or inherit all)"`
	Timeout   time.Duration `help:"Kill the command after this long (default: config exec.timeout)"`
	Rationale string        `help:"Why the command is run; recorded in command.request"`
}

func (f ExecFlags) options(globals *Globals, logger *zap.Logger) (execution.Options, error) {
	opts := execution.Options{
		EnvAllowlist: f.Env,
		Timeout:      f.Timeout,
		Rationale:    f.Rationale,
		Logger:       logger,
	}
	if globals.Config == nil {
		return opts, nil
	}
	if len(opts.EnvAllowlist) == 0 {
		opts.EnvAllowlist = globals.Config.Exec.EnvAllowlist
	}
	if opts.Timeout == 0 && strings.TrimSpace(globals.Config.Exec.Timeout) != "" {
		d, err := time.ParseDuration(globals.Config.Exec.Timeout)
		if err != nil {
			return opts, fmt.Errorf("invalid exec.timeout %q: %w", globals.Config.Exec.Timeout, err)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// recorderOptions builds the signer and recorder options from config.
func recorderOptions(globals *Globals, logger *zap.Logger, flags BundleFlags) ([]recorder.Option, signer.Signer, error) {
	var keyID, key, service string
	if cfg := globals.Config; cfg != nil {
		keyID, key, service = cfg.Signing.KeyID, cfg.Signing.PrivateKey, cfg.Service
	}
	if signer.PartiallyConfigured(keyID, key) {
		logger.Warn("signing key partially configured; receipts will be unsigned")
		if !globals.Quiet {
			fmt.Fprintln(globals.Stderr, "Warning: signing key partially configured; receipts will be unsigned")
		}
	}
	sg, err := signer.New(keyID, key)
	if err != nil {
		return nil, nil, err
	}
	opts := []recorder.Option{
		recorder.WithSigner(sg),
		recorder.WithLogger(logger),
	}
	if service != "" {
		opts = append(opts, recorder.WithService(service))
	}
	if flags.SourceURL != "" {
		opts = append(opts, recorder.WithSourceURL(flags.SourceURL))
	}
	return opts, sg, nil
}

func sessionOutput(path string, r *domain.SessionReceipt, sg signer.Signer) *output.BundleOutput {
	return &output.BundleOutput{
		Mode:           domain.ModeRecord,
		ID:             r.SessionID,
		Path:           path,
		BundleHash:     r.BundleHash,
		TranscriptHash: r.TranscriptHash,
		Events:         len(r.Events),
		KeyID:          sg.KeyID(),
		Signed:         len(r.Signatures) > 0,
	}
}

func snapshotOutput(path string, r *domain.SnapshotReceipt, sg signer.Signer) *output.BundleOutput {
	return &output.BundleOutput{
		Mode:        domain.ModeSnapshot,
		ID:          r.SnapshotID,
		Path:        path,
		BundleHash:  r.BundleHash,
		PayloadHash: r.PayloadHash,
		KeyID:       sg.KeyID(),
		Signed:      len(r.Signatures) > 0,
	}
}

func writeBundle(globals *Globals, b *output.BundleOutput) error {
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteBundle(b)
	}
	return output.NewTextWriter(globals.Stdout).WriteBundle(b)
}
