package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Environment variables that select the signing key. They are honoured in
// addition to VALET_SIGNING_KEY_ID / VALET_SIGNING_PRIVATE_KEY.
const (
	EnvKeyID      = "HALO_KEY_ID"
	EnvPrivateKey = "HALO_ED25519_PRIVATE_KEY_B64"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Recorder settings
	Service   string `mapstructure:"service"`
	MachineID string `mapstructure:"machine_id"`
	OutputDir string `mapstructure:"output_dir"`

	Signing SigningConfig `mapstructure:"signing"`
	Exec    ExecConfig    `mapstructure:"exec"`
}

// SigningConfig selects the receipt signer. Both fields empty means
// unsigned bundles.
type SigningConfig struct {
	KeyID      string `mapstructure:"key_id"`
	PrivateKey string `mapstructure:"private_key"`
}

// ExecConfig holds defaults for recorded command runs
type ExecConfig struct {
	EnvAllowlist []string `mapstructure:"env_allowlist"`
	Timeout      string   `mapstructure:"timeout"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:    "ndjson",
		Quiet:     false,
		Verbose:   false,
		Service:   "valet",
		MachineID: defaultMachineID(),
		OutputDir: ".",
	}
}

func defaultMachineID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variables
	v.SetEnvPrefix("VALET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("signing.key_id", "VALET_SIGNING_KEY_ID", EnvKeyID)
	_ = v.BindEnv("signing.private_key", "VALET_SIGNING_PRIVATE_KEY", EnvPrivateKey)

	// Set defaults
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("service", cfg.Service)
	v.SetDefault("machine_id", cfg.MachineID)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("signing.key_id", "")
	v.SetDefault("signing.private_key", "")
	v.SetDefault("exec.env_allowlist", []string{})
	v.SetDefault("exec.timeout", "")
	return v
}

// Load loads configuration from the first config file found (if any) and
// the environment
func Load() (*Config, error) {
	if path := findConfigFile(); path != "" {
		return LoadFromFile(path)
	}
	return unmarshal(newViper())
}

// LoadFromFile loads configuration from a specific file, still honouring
// environment overrides
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the path to the config file Load would use, or ""
func ConfigFile() string {
	return findConfigFile()
}

// SearchPaths lists config file candidates in lookup order
func SearchPaths() []string {
	var dirs []string
	dirs = append(dirs, ".")
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(configDir, "valet"))
	}
	dirs = append(dirs, "/etc/valet")

	names := []string{"valet.yaml", ".valet.yaml", ".valet.yml", ".valetrc"}
	var paths []string
	for _, dir := range dirs {
		for _, name := range names {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths
}

func findConfigFile() string {
	for _, p := range SearchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
