package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/t184256/transcriber-go/internal/session"
)

// DefaultsFile is the optional YAML shape of the --defaults file. Every
// field mirrors a Configure field a client may omit; an omitted Configure
// field falls back to the matching value here.
type DefaultsFile struct {
	Language      string `yaml:"language"`
	MaxLen        int    `yaml:"max_len"`
	MaxTokens     int    `yaml:"max_tokens"`
	SingleSegment bool   `yaml:"single_segment"`
	MaxInitialTS  int    `yaml:"max_initial_ts"`
	NoPreview     bool   `yaml:"no_preview"`
	TwoStroke     bool   `yaml:"two_stroke"`
}

// LoadDefaults reads and validates the YAML file at path, the way the
// teacher's Load wraps LoadFromReader around os.Open.
func LoadDefaults(path string) (session.Defaults, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Defaults{}, fmt.Errorf("config: open defaults file %q: %w", path, err)
	}
	defer f.Close()

	d, err := DefaultsFromReader(f)
	if err != nil {
		return session.Defaults{}, fmt.Errorf("config: parse defaults file %q: %w", path, err)
	}
	return d, nil
}

// DefaultsFromReader decodes a defaults file from r, rejecting unknown
// fields so typos in a deployment's defaults file fail loudly at startup.
func DefaultsFromReader(r io.Reader) (session.Defaults, error) {
	var raw DefaultsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return session.Defaults{}, fmt.Errorf("config: decode defaults yaml: %w", err)
	}
	if raw.Language == "auto" {
		raw.Language = ""
	}
	return session.Defaults{
		Language:      raw.Language,
		MaxLen:        raw.MaxLen,
		MaxTokens:     raw.MaxTokens,
		SingleSegment: raw.SingleSegment,
		MaxInitialTS:  raw.MaxInitialTS,
		NoPreview:     raw.NoPreview,
		TwoStroke:     raw.TwoStroke,
	}, nil
}
