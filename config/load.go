package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration document.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatJSON5 Format = "json5"
)

// FormatFromPath picks the decoder from the file extension, YAML otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".json5":
		return FormatJSON5
	default:
		return FormatYAML
	}
}

// LoadFile reads, decodes, defaults and validates the document at path.
func LoadFile(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("read %s", path), Err: err}
	}
	return Parse(b, FormatFromPath(path))
}

// Parse decodes data in the given format, applies defaults and validates.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	if err := decode(data, format, &doc); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("parse %s", format), Err: err}
	}
	if err := doc.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ApplyDefaults fills unset request settings from DefaultRequestConfig.
func (d *Document) ApplyDefaults() error {
	if err := mergo.Merge(&d.Config, DefaultRequestConfig()); err != nil {
		return &ConfigError{Reason: "apply defaults", Err: err}
	}
	return nil
}

func decode(data []byte, format Format, doc *Document) error {
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(doc)
	case FormatJSON5:
		return json5.Unmarshal(data, doc)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(doc); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("document is empty")
			}
			return err
		}
		return nil
	}
}
