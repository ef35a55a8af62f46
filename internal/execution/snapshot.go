package execution

import (
	"context"

	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/recorder"
)

// SnapshotKind tags command snapshot payloads.
const SnapshotKind = "command"

type snapshotPayload struct {
	Kind       string   `json:"kind"`
	Cmd        []string `json:"cmd"`
	Cwd        string   `json:"cwd"`
	ExitCode   int      `json:"exit_code"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	DurationMS int64    `json:"duration_ms"`
}

// Snapshot runs argv and captures the result as a snapshot bundle in
// outputDir. opts.Recorder is ignored.
func Snapshot(ctx context.Context, argv []string, opts Options, outputDir, machineID string, recOpts ...recorder.Option) (string, *domain.SnapshotReceipt, *Result, error) {
	opts.Recorder = nil
	res, err := Run(ctx, argv, opts)
	if err != nil {
		return "", nil, nil, err
	}
	payload := snapshotPayload{
		Kind:       SnapshotKind,
		Cmd:        res.Cmd,
		Cwd:        res.Cwd,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMS: res.DurationMS,
	}
	path, receipt, err := recorder.CreateSnapshot(payload, outputDir, machineID, recOpts...)
	if err != nil {
		return "", nil, res, err
	}
	return path, receipt, res, nil
}
