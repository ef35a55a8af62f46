package cli

import (
	"fmt"
	"runtime"

	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/output"
)

// VersionCmd shows build and format versions
type VersionCmd struct{}

// VersionOutput represents the NDJSON output for version information
type VersionOutput struct {
	Type            string `json:"type"`
	SchemaVersion   int    `json:"schemaVersion"`
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	GoVersion       string `json:"go_version"`
	RecorderVersion string `json:"recorder_version"`
	SessionSchema   string `json:"session_schema"`
	SnapshotSchema  string `json:"snapshot_schema"`
	ManifestSchema  string `json:"manifest_schema"`
}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	out := VersionOutput{
		Type:            "version",
		SchemaVersion:   output.SchemaVersion,
		Version:         Version,
		Commit:          Commit,
		GoVersion:       runtime.Version(),
		RecorderVersion: domain.RecorderVersion,
		SessionSchema:   domain.SessionSchemaVersion,
		SnapshotSchema:  domain.SnapshotSchemaVersion,
		ManifestSchema:  domain.ManifestSchemaVersion,
	}
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(out)
	}

	fmt.Fprintf(globals.Stdout, "valet %s (%s, %s)\n", out.Version, out.Commit, out.GoVersion)
	fmt.Fprintf(globals.Stdout, "  recorder: %s\n", out.RecorderVersion)
	_, err := fmt.Fprintf(globals.Stdout, "  schemas:  %s, %s, %s\n", out.SessionSchema, out.SnapshotSchema, out.ManifestSchema)
	return err
}
