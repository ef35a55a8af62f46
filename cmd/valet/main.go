package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/vburojevic/valet/internal/cli"
	"github.com/vburojevic/valet/internal/config"
)

const quickStart = `valet - tamper-evident HALO bundles for agent sessions

Quick start:
  valet keygen                                   Create a signing key
  valet record --events events.ndjson            Record a session bundle
  valet exec -- go test ./...                    Snapshot a command run
  valet verify --public-key KEY bundle.halo      Verify a bundle

For help:
  valet --help                                   All commands and flags
  valet schema                                   JSON Schema of NDJSON output
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Apply config defaults before parsing
	// These will be overridden by CLI flags if specified
	vars := kong.Vars{
		"config_format": cfg.Format,
	}

	ctx := kong.Parse(&c,
		kong.Name("valet"),
		kong.Description("Valet: record, snapshot and verify tamper-evident HALO bundles"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals, err := cli.NewGlobalsWithConfig(&c, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config %s: %v\n", c.ConfigFile, err)
		os.Exit(2)
	}
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}
