package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxEntrySize bounds how much of a single entry Open will read.
const maxEntrySize = 256 << 20

// Archive is an opened bundle held in memory.
type Archive struct {
	Path  string
	Names []string // entry names in archive order
	files map[string][]byte
}

// Open reads every entry of the bundle at path.
func Open(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer zr.Close()

	a := &Archive{Path: path, files: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		if _, dup := a.files[f.Name]; dup {
			return nil, fmt.Errorf("bundle %s: duplicate entry %s", path, f.Name)
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", path, err)
		}
		a.Names = append(a.Names, f.Name)
		a.files[f.Name] = data
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, maxEntrySize)
	}
	return data, nil
}

// File returns the content of the named entry.
func (a *Archive) File(name string) ([]byte, bool) {
	b, ok := a.files[name]
	return b, ok
}

// Decode unmarshals the named JSON entry into v, keeping numbers as
// json.Number.
func (a *Archive) Decode(name string, v any) error {
	b, ok := a.files[name]
	if !ok {
		return fmt.Errorf("missing entry %s", name)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
