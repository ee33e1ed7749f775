package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path,
// e.g. "training.stop_timeout". An empty path returns the whole document.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.API.Auth.APIKey != "" {
		cp.API.Auth.APIKey = "***"
	}
	if len(cp.API.Auth.Tokens) > 0 {
		toks := make([]APITokenConfig, len(cp.API.Auth.Tokens))
		for i, t := range cp.API.Auth.Tokens {
			t.Token = "***"
			toks[i] = t
		}
		cp.API.Auth.Tokens = toks
	}
	if cp.Mirror.ConnectionString != "" {
		cp.Mirror.ConnectionString = "***"
	}
	return &cp
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
