package cli

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/output"
	"github.com/vburojevic/valet/internal/signer"
)

// VerifyCmd checks one or more bundles offline.
type VerifyCmd struct {
	Bundles   []string `arg:"" type:"existingfile" help:"Bundle files (.halo) to verify"`
	PublicKey string   `name:"public-key" short:"k" placeholder:"KEY|FILE" help:"Ed25519 public key (base64url) or a file holding it; enables signature checks"`
	Jobs      int      `short:"j" default:"0" help:"Bundles verified in parallel (default: number of CPUs)"`
}

// Run executes the verify command. It fails when any bundle fails a check.
func (c *VerifyCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	opts := bundle.VerifyOptions{}
	if c.PublicKey != "" {
		pub, err := loadPublicKey(c.PublicKey)
		if err != nil {
			return outputFailure(globals, err, codeInvalidKey, "pass the public_key_b64 printed by 'valet keygen'")
		}
		opts.PublicKey = pub
	}

	logger := newLogger(globals)
	defer func() { _ = logger.Sync() }()

	reports, err := verifyAll(context.Background(), c.Bundles, opts, c.jobs())
	if err != nil {
		return outputFailure(globals, err, codeVerifyFailed)
	}

	var failed []string
	ndjson := output.NewNDJSONWriter(globals.Stdout)
	text := output.NewTextWriter(globals.Stdout)
	for _, r := range reports {
		if !r.OK {
			failed = append(failed, r.Path)
		}
		logger.Debug("bundle verified", zap.String("path", r.Path), zap.Bool("ok", r.OK), zap.Int("failed_checks", len(r.Failed())))
		if globals.Quiet && r.OK {
			continue
		}
		if globals.Format == "ndjson" {
			err = ndjson.WriteReport(r)
		} else {
			err = text.WriteReport(r)
		}
		if err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return outputErrorCommon(globals, codeVerifyFailed,
			fmt.Sprintf("%d of %d bundles failed verification: %s", len(failed), len(reports), strings.Join(failed, ", ")))
	}
	return nil
}

func (c *VerifyCmd) jobs() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.NumCPU()
}

// verifyAll verifies paths concurrently and returns reports in input order.
// An unreadable bundle aborts the run.
func verifyAll(ctx context.Context, paths []string, opts bundle.VerifyOptions, jobs int) ([]*bundle.Report, error) {
	reports := make([]*bundle.Report, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, path := range paths {
		i, path := i, path // per-iteration copies for pre-1.22 loopvar semantics
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := bundle.Verify(path, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// loadPublicKey accepts the key itself or a path to a file containing it.
func loadPublicKey(arg string) (ed25519.PublicKey, error) {
	if b, err := os.ReadFile(arg); err == nil {
		return signer.ParsePublicKey(strings.TrimSpace(string(b)))
	}
	return signer.ParsePublicKey(strings.TrimSpace(arg))
}
