// Package cli implements the valet command tree on top of kong.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vburojevic/valet/internal/config"
)

// Build information, set via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root command.
type CLI struct {
	Format     string `short:"f" default:"${config_format}" enum:"ndjson,text" help:"Output format (ndjson, text)"`
	Quiet      bool   `short:"q" help:"Only emit results that need attention"`
	Verbose    bool   `short:"v" help:"Debug logging to stderr"`
	ConfigFile string `name:"config" short:"c" type:"path" help:"Config file (default: search ./valet.yaml, ~/.valet.yaml, ...)"`

	Record     RecordCmd     `cmd:"" help:"Record events and/or a command run into a session bundle"`
	Snapshot   SnapshotCmd   `cmd:"" help:"Capture a JSON, YAML or plist payload as a snapshot bundle"`
	Exec       ExecCmd       `cmd:"" help:"Run a command and capture its result as a snapshot bundle"`
	Verify     VerifyCmd     `cmd:"" help:"Verify bundle hashes, event chain and signatures"`
	Keygen     KeygenCmd     `cmd:"" help:"Generate an Ed25519 signing key"`
	Schema     SchemaCmd     `cmd:"" help:"Output JSON Schema for valet NDJSON output"`
	Config     ConfigCmd     `cmd:"" help:"Show or generate configuration"`
	Completion CompletionCmd `cmd:"" help:"Generate shell completions"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// Globals holds global flags resolved against the loaded configuration.
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config
}

// NewGlobalsWithConfig creates Globals from parsed flags. An explicit
// --config file replaces cfg; otherwise flags left at their zero value fall
// back to cfg.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) (*Globals, error) {
	if c.ConfigFile != "" {
		loaded, err := config.LoadFromFile(c.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Globals{
		Format:  c.Format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
