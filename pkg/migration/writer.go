// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/yaml"
)

// Format selects the on-disk encoding a migration file is written in and
// read back from.
type Format int

const (
	InvalidFormat Format = iota
	JSONFormat
	YAMLFormat
)

// ErrInvalidFormat is returned by Writer.Write when Format is zero-valued.
var ErrInvalidFormat = errors.New("migration: invalid format")

// FormatFromExtension maps a file extension (as returned by
// filepath.Ext, dot included or not) to a Format, defaulting to
// JSONFormat for anything that isn't recognizably YAML.
func FormatFromExtension(ext string) Format {
	switch ext {
	case ".yaml", ".yml", "yaml", "yml":
		return YAMLFormat
	default:
		return JSONFormat
	}
}

// Extension returns the canonical file extension for f, json for anything
// other than YAMLFormat.
func (f Format) Extension() string {
	if f == YAMLFormat {
		return "yaml"
	}
	return "json"
}

// Writer encodes a Migration to an io.Writer in the configured Format. JSON
// output is indented for readability; YAML output goes through
// sigs.k8s.io/yaml so it round-trips through the same encoding/json struct
// tags the rest of dbsentinel relies on.
type Writer struct {
	w      io.Writer
	format Format
}

// NewWriter builds a Writer that encodes to w in the given format.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format}
}

// Write encodes m in the Writer's configured format.
func (w *Writer) Write(m *Migration) error {
	switch w.format {
	case YAMLFormat:
		b, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode yaml migration: %w", err)
		}
		_, err = w.w.Write(b)
		return err
	case JSONFormat:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode json migration: %w", err)
		}
		return nil
	default:
		return ErrInvalidFormat
	}
}

// Parse decodes a migration file's contents according to format. YAML is
// accepted via sigs.k8s.io/yaml, which converts to JSON before unmarshaling
// so the same json struct tags on Migration/Step apply to both formats.
func Parse(b []byte, format Format) (*Migration, error) {
	var m Migration
	var err error
	if format == YAMLFormat {
		err = yaml.Unmarshal(b, &m)
	} else {
		err = json.Unmarshal(b, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing migration: %w", err)
	}
	return &m, nil
}
