package cli

import (
	"fmt"

	"github.com/vburojevic/valet/internal/config"
	"github.com/vburojevic/valet/internal/output"
)

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is used"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration.
type ConfigShowCmd struct{}

// ConfigOutput is the NDJSON config record. The private key is never echoed.
type ConfigOutput struct {
	Type          string   `json:"type"`
	SchemaVersion int      `json:"schemaVersion"`
	Format        string   `json:"format"`
	Quiet         bool     `json:"quiet"`
	Verbose       bool     `json:"verbose"`
	Service       string   `json:"service"`
	MachineID     string   `json:"machine_id"`
	OutputDir     string   `json:"output_dir"`
	KeyID         string   `json:"key_id"`
	KeySet        bool     `json:"private_key_set"`
	EnvAllowlist  []string `json:"env_allowlist"`
	Timeout       string   `json:"timeout"`
	File          string   `json:"file,omitempty"`
}

// Run executes config show
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}
	out := ConfigOutput{
		Type:          "config",
		SchemaVersion: output.SchemaVersion,
		Format:        cfg.Format,
		Quiet:         cfg.Quiet,
		Verbose:       cfg.Verbose,
		Service:       cfg.Service,
		MachineID:     cfg.MachineID,
		OutputDir:     cfg.OutputDir,
		KeyID:         cfg.Signing.KeyID,
		KeySet:        cfg.Signing.PrivateKey != "",
		EnvAllowlist:  cfg.Exec.EnvAllowlist,
		Timeout:       cfg.Exec.Timeout,
		File:          config.ConfigFile(),
	}
	if out.EnvAllowlist == nil {
		out.EnvAllowlist = []string{}
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(out)
	}

	w := globals.Stdout
	fmt.Fprintln(w, "Current Configuration:")
	if out.File != "" {
		fmt.Fprintf(w, "  file:        %s\n", out.File)
	}
	fmt.Fprintf(w, "  format:      %s\n", out.Format)
	fmt.Fprintf(w, "  quiet:       %v\n", out.Quiet)
	fmt.Fprintf(w, "  verbose:     %v\n", out.Verbose)
	fmt.Fprintf(w, "  service:     %s\n", out.Service)
	fmt.Fprintf(w, "  machine_id:  %s\n", out.MachineID)
	fmt.Fprintf(w, "  output_dir:  %s\n", out.OutputDir)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Signing:")
	fmt.Fprintf(w, "  key_id:      %s\n", out.KeyID)
	fmt.Fprintf(w, "  private_key: %s\n", setOrUnset(out.KeySet))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exec:")
	fmt.Fprintf(w, "  env_allowlist: %v\n", out.EnvAllowlist)
	_, err := fmt.Fprintf(w, "  timeout:       %s\n", out.Timeout)
	return err
}

func setOrUnset(set bool) string {
	if set {
		return "(set)"
	}
	return "(unset)"
}

// ConfigPathCmd prints the config file in use and the search order.
type ConfigPathCmd struct{}

// ConfigPathOutput is the NDJSON config_path record.
type ConfigPathOutput struct {
	Type          string   `json:"type"`
	SchemaVersion int      `json:"schemaVersion"`
	Path          string   `json:"path"`
	SearchPaths   []string `json:"search_paths"`
}

// Run executes config path
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(ConfigPathOutput{
			Type:          "config_path",
			SchemaVersion: output.SchemaVersion,
			Path:          path,
			SearchPaths:   config.SearchPaths(),
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found. Searched:")
		for _, p := range config.SearchPaths() {
			fmt.Fprintf(globals.Stdout, "  %s\n", p)
		}
		return nil
	}
	_, err := fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return err
}

// ConfigGenerateCmd prints a sample config file.
type ConfigGenerateCmd struct{}

const sampleConfig = `# valet configuration file
# Save as ./valet.yaml, ~/.valet.yaml or ~/.config/valet/valet.yaml

# Output format: ndjson or text
format: ndjson

# Only emit results that need attention (ndjson only)
quiet: false

# Debug logging to stderr
verbose: false

# Issuer service name written into receipts
service: valet

# Machine identifier recorded in the receipt subject (default: hostname)
# machine_id: build-host-1

# Directory bundles are written to
output_dir: .

signing:
  # Both fields are required to sign receipts; leave empty for unsigned bundles.
  # HALO_KEY_ID and HALO_ED25519_PRIVATE_KEY_B64 override these.
  key_id: ""
  private_key: ""

exec:
  # Environment variables passed to recorded commands (empty inherits all)
  env_allowlist: []
  # Kill recorded commands after this long (e.g. 30s, 5m; empty disables)
  timeout: ""
`

// Run executes config generate
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	_, err := fmt.Fprint(globals.Stdout, sampleConfig)
	return err
}
