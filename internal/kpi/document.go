package kpi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the import/export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension; JSON is the default.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (expected json or yaml)", value)
	}
}

// DecodeDataset decodes an export document. Unknown JSON fields are rejected.
func DecodeDataset(data []byte, format Format) (*Dataset, error) {
	var ds Dataset
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ds); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	return &ds, nil
}

// EncodeDataset encodes ds with a trailing newline.
func EncodeDataset(ds *Dataset, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(ds)
		if err != nil {
			return nil, fmt.Errorf("marshal yaml: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(ds, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// LoadDataset reads, decodes, and validates an import file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ds, err := DecodeDataset(data, FormatForPath(path))
	if err != nil {
		return nil, ValidationErrors{{Source: path, Field: string(FormatForPath(path)), Message: err.Error()}}
	}
	if errs := Validate(ds, path); len(errs) > 0 {
		return nil, errs
	}
	return ds, nil
}

// WriteDataset encodes ds and writes it atomically to path.
func WriteDataset(path string, ds *Dataset, format Format) error {
	data, err := EncodeDataset(ds, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure export dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}
