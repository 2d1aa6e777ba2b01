// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load reads a YAML file into target after ${VAR} expansion. Keys that do
// not map to a field are an error. target is validated when it implements
// Validator.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := decode(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return validate(target)
}

// LoadOptional behaves like Load but keeps target as is when filename does
// not exist. target is validated either way.
func LoadOptional[T any](filename string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	return Load(filename, target)
}

func decode(data []byte, target any) error {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func validate(target any) error {
	if validator, ok := target.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
