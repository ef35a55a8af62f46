package bundle

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Fixed per-entry metadata; archive bytes depend only on entry names and
// contents.
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	// bundleMode is both the zip entry mode and the .halo file permission.
	bundleMode       os.FileMode = 0o644
	dirMode          os.FileMode = 0o755
	compressionLevel             = 6
)

type entry struct {
	name string
	data []byte
}

func writeZip(w io.Writer, entries []entry) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, compressionLevel)
	})

	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: entryTime,
		}
		hdr.SetMode(bundleMode)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return fmt.Errorf("write entry %s: %w", e.name, err)
		}
	}
	return zw.Close()
}

// writeArchive writes entries to path atomically: the bundle is either
// absent or complete under its final name.
func writeArchive(path string, entries []entry) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(bundleMode))
	if err != nil {
		return fmt.Errorf("create pending bundle: %w", err)
	}
	// No-op after a successful commit.
	defer func() {
		_ = pending.Cleanup()
	}()

	if err := writeZip(pending, entries); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace bundle: %w", err)
	}
	return nil
}
