// Package payload decodes structured snapshot input into the JSON value
// tree recorded in a bundle.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"howett.net/plist"

	"github.com/vburojevic/valet/internal/canonical"
)

// Format is an input encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatPlist Format = "plist"
)

// Formats lists the accepted formats.
var Formats = []Format{FormatJSON, FormatYAML, FormatPlist}

// ParseFormat validates a format name; "" means detect.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON, FormatYAML, FormatPlist:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("payload: unknown format %q", s)
	}
}

// FormatFromPath picks a format by file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".plist":
		return FormatPlist
	default:
		return FormatJSON
	}
}

// Decode parses data in format f and normalizes it for canonical encoding.
func Decode(data []byte, f Format) (any, error) {
	var (
		tree any
		err  error
	)
	switch f {
	case FormatJSON, "":
		tree, err = canonical.Decode(data)
	case FormatYAML:
		tree, err = decodeYAML(data)
	case FormatPlist:
		_, err = plist.Unmarshal(data, &tree)
	default:
		return nil, fmt.Errorf("payload: unknown format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("payload: decode %s: %w", f, err)
	}

	normalized, err := canonical.Normalize(tree)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return normalized, nil
}

// Read decodes r; an empty format is detected from name.
func Read(r io.Reader, name string, f Format) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("payload: read %s: %w", name, err)
	}
	if f == "" {
		f = FormatFromPath(name)
	}
	return Decode(data, f)
}

// ReadFile decodes the file at path.
func ReadFile(path string, f Format) (any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	defer file.Close()
	return Read(file, path, f)
}

func decodeYAML(data []byte) (any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("multiple YAML documents")
		}
		return nil, err
	}
	return stringKeys(doc)
}

// stringKeys converts the map[any]any values yaml.v3 produces for
// non-string keys into JSON objects.
func stringKeys(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			conv, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			val[k] = conv
		}
		return val, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprint(k)
			}
			if _, dup := out[ks]; dup {
				return nil, fmt.Errorf("key %q collides after conversion to string", ks)
			}
			conv, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			out[ks] = conv
		}
		return out, nil
	case []any:
		for i, item := range val {
			conv, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			val[i] = conv
		}
		return val, nil
	default:
		return v, nil
	}
}
