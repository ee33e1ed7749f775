package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory is accepted
// when it contains config.yaml. Unset keys keep their Defaults() value.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML bytes over Defaults(), interpolating ${VAR} references,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when set, otherwise the discovered config,
// otherwise Defaults().
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		discovered, err := DiscoverConfigPath()
		if err != nil {
			cfg := Defaults()
			applyDefaults(cfg)
			return cfg, nil
		}
		configPath = discovered
	}
	return Load(configPath)
}

// applyDefaults fills zero values left by a partial YAML file.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = def.Service.LogFormat
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if cfg.Dataset.Path == "" {
		cfg.Dataset.Path = def.Dataset.Path
	}
	if cfg.Dataset.MinTextLength == 0 {
		cfg.Dataset.MinTextLength = def.Dataset.MinTextLength
	}
	t := &cfg.Training
	if t.JournalPath == "" {
		t.JournalPath = def.Training.JournalPath
	}
	if t.CheckpointDir == "" {
		t.CheckpointDir = def.Training.CheckpointDir
	}
	if t.CheckpointPrefix == "" {
		t.CheckpointPrefix = def.Training.CheckpointPrefix
	}
	if t.ModelDir == "" {
		t.ModelDir = def.Training.ModelDir
	}
	if t.StalenessWindow == 0 {
		t.StalenessWindow = def.Training.StalenessWindow
	}
	if t.StopTimeout == 0 {
		t.StopTimeout = def.Training.StopTimeout
	}
	if t.ShutdownTimeout == 0 {
		t.ShutdownTimeout = def.Training.ShutdownTimeout
	}
	if cfg.Trainer.KillGrace == 0 {
		cfg.Trainer.KillGrace = def.Trainer.KillGrace
	}
	if cfg.State.Path == "" {
		cfg.State.Path = def.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
	if cfg.Mirror.Container == "" {
		cfg.Mirror.Container = def.Mirror.Container
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolvedEnv(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required (no platform user-data directory could be determined)")
	}
	if cfg.Dataset.MinTextLength < 1 {
		return fmt.Errorf("dataset.min_text_length must be positive")
	}

	t := cfg.Training
	if t.MinTotalExamples < 1 {
		return fmt.Errorf("training.min_total_examples must be positive")
	}
	if t.MinPerRole < 1 {
		return fmt.Errorf("training.min_per_role must be positive")
	}
	if t.MinPerRole*3 > t.MinTotalExamples {
		return fmt.Errorf("training.min_total_examples (%d) cannot be satisfied below 3 x training.min_per_role (%d)",
			t.MinTotalExamples, t.MinPerRole)
	}
	if t.StalenessWindow < 0 {
		return fmt.Errorf("training.staleness_window must not be negative")
	}
	if t.ContinueThreshold < 0 {
		return fmt.Errorf("training.continue_threshold must not be negative")
	}
	if t.StopTimeout <= 0 || t.ShutdownTimeout <= 0 {
		return fmt.Errorf("training.stop_timeout and training.shutdown_timeout must be positive")
	}
	if strings.ContainsAny(t.CheckpointPrefix, `/\`) {
		return fmt.Errorf("training.checkpoint_prefix must not contain path separators")
	}

	if cfg.Trainer.Command == "" {
		return fmt.Errorf("trainer.command is required")
	}
	if cfg.Trainer.Epochs <= 0 {
		return fmt.Errorf("trainer.epochs must be positive")
	}
	if cfg.Trainer.BatchSize < 0 || cfg.Trainer.CheckpointEvery < 0 {
		return fmt.Errorf("trainer.batch_size and trainer.checkpoint_every must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if err := unresolvedEnv("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if err := unresolvedEnv(field, tok.Token); err != nil {
				return err
			}
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must list at least one scope", i)
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 && !isLoopback(cfg.API.Listen) {
			return fmt.Errorf("api.auth.api_key is required when api.listen (%s) is not a loopback address", cfg.API.Listen)
		}
	}

	if cfg.Mirror.Enabled {
		if err := unresolvedEnv("mirror.connection_string", cfg.Mirror.ConnectionString); err != nil {
			return err
		}
		if cfg.Mirror.ConnectionString == "" {
			return fmt.Errorf("mirror.connection_string is required when mirror is enabled")
		}
		if cfg.Mirror.Container == "" {
			return fmt.Errorf("mirror.container is required when mirror is enabled")
		}
	}
	return nil
}

func isLoopback(listen string) bool {
	host := listen
	if i := strings.LastIndex(listen, ":"); i >= 0 {
		host = listen[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
