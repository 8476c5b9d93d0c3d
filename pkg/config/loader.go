package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Load fills cfg from the environment using its `env` and `envDefault`
// struct tags.
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadYAML decodes the YAML document at path into dst. Unknown keys are
// rejected so that typos in hand-edited files surface at startup.
func LoadYAML(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeYAML(raw, dst)
}

// DecodeYAML decodes a YAML document into dst with unknown keys rejected.
func DecodeYAML(raw []byte, dst any) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}
