// Package config loads the injector's runtime policy.
//
// Policy comes from an optional YAML file and the OVERWRITE environment
// variable, in that order of precedence (the environment wins when set).
// It is read once at process start and handed to the mutation engine; nothing
// in the request path consults the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/numtide/annotation-injector/pkg/mutation"
)

// OverwriteEnv is the environment variable controlling the overwrite policy.
const OverwriteEnv = "OVERWRITE"

// Config represents the top-level structure of the config file.
type Config struct {
	// Overwrite replaces a differing value of the injected annotation.
	Overwrite bool `yaml:"overwrite"`
	// LegacyUnescapedPaths emits the annotation key unescaped in JSON Pointer paths.
	LegacyUnescapedPaths bool `yaml:"legacyUnescapedPaths"`
}

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// Load reads the YAML file at path (skipped when path is empty) and applies
// environment overrides from lookupEnv. A nil lookupEnv uses os.LookupEnv.
func Load(path string, lookupEnv LookupEnvFunc) (*Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from a trusted flag
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if v, ok := lookupEnv(OverwriteEnv); ok {
		cfg.Overwrite = ParseBool(v)
	}

	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ParseBool reports whether value is one of "1", "true" or "yes", ignoring
// case. Every other value, including the empty string, is false.
func ParseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// EngineOptions converts the configuration into mutation engine options.
func (c *Config) EngineOptions() mutation.Options {
	return mutation.Options{
		Overwrite:            c.Overwrite,
		LegacyUnescapedPaths: c.LegacyUnescapedPaths,
	}
}
