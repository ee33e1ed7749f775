package config

import "time"

// Config represents the complete qadoc configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	DataDir  string         `yaml:"data_dir"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Training TrainingConfig `yaml:"training"`
	Trainer  TrainerConfig  `yaml:"trainer"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
	Mirror   MirrorConfig   `yaml:"mirror,omitempty"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DatasetConfig locates the labeled example store.
type DatasetConfig struct {
	Path string `yaml:"path"`
	// SeedPath is a bundled dataset copied in when Path does not exist yet.
	SeedPath      string `yaml:"seed_path,omitempty"`
	MinTextLength int    `yaml:"min_text_length"`
}

// TrainingConfig holds the lifecycle thresholds and durable locations.
// The numeric thresholds are empirical; keep them configurable.
type TrainingConfig struct {
	JournalPath      string        `yaml:"journal_path"`
	CheckpointDir    string        `yaml:"checkpoint_dir"`
	CheckpointPrefix string        `yaml:"checkpoint_prefix"`
	ModelDir         string        `yaml:"model_dir"`
	MinTotalExamples int           `yaml:"min_total_examples"`
	MinPerRole       int           `yaml:"min_per_role"`
	StalenessWindow  time.Duration `yaml:"staleness_window"`
	// ContinueThreshold is the recorded epoch at or above which a resumed
	// trainer would consider its run already finished. Zero means the
	// configured trainer.epochs, the horizon the trainer stops at.
	ContinueThreshold float64       `yaml:"continue_threshold,omitempty"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AutoResume        *bool         `yaml:"auto_resume,omitempty"`
}

// TrainerConfig describes the external training process.
type TrainerConfig struct {
	Command         string            `yaml:"command"`
	Args            []string          `yaml:"args,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	Epochs          float64           `yaml:"epochs"`
	BatchSize       int               `yaml:"batch_size"`
	CheckpointEvery int               `yaml:"checkpoint_every"`
	// KillGrace is how long a trainer gets between SIGTERM and SIGKILL.
	KillGrace time.Duration `yaml:"kill_grace"`
}

// StateConfig defines run history storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token. Empty disables authentication, which
	// is only accepted for loopback listeners.
	APIKey string `yaml:"api_key"`
	// Tokens are additional bearer tokens limited to a set of scopes.
	Tokens []APITokenConfig `yaml:"tokens,omitempty"`
}

// APITokenConfig is a scoped bearer token.
type APITokenConfig struct {
	Name   string   `yaml:"name,omitempty"`
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// MirrorConfig configures the optional remote copy of published models.
type MirrorConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Container        string `yaml:"container"`
	ConnectionString string `yaml:"connection_string"`
	Prefix           string `yaml:"prefix"`
}

// AutoResumeEnabled reports whether startup recovery may restart training.
func (t TrainingConfig) AutoResumeEnabled() bool {
	return t.AutoResume == nil || *t.AutoResume
}

// ContinueThreshold resolves training.continue_threshold, falling back to
// trainer.epochs when it is unset.
func (c *Config) ContinueThreshold() float64 {
	if c.Training.ContinueThreshold > 0 {
		return c.Training.ContinueThreshold
	}
	return float64(c.Trainer.Epochs)
}

// Defaults returns a configuration rooted at the platform user-data directory.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "qadoc",
			LogLevel:  "info",
			LogFormat: "json",
		},
		DataDir: DefaultDataDir(),
		Dataset: DatasetConfig{
			Path:          "training_data.json",
			MinTextLength: 10,
		},
		Training: TrainingConfig{
			JournalPath:       "training_journal.json",
			CheckpointDir:     "training_checkpoints",
			CheckpointPrefix:  "checkpoint-",
			ModelDir:          "fine_tuned_model",
			MinTotalExamples:  10,
			MinPerRole:        1,
			StalenessWindow:   24 * time.Hour,
			StopTimeout:       30 * time.Second,
			ShutdownTimeout:   60 * time.Second,
		},
		Trainer: TrainerConfig{
			Command:         "python3",
			Args:            []string{"scripts/train_transformer.py", "--protocol"},
			Epochs:          3,
			BatchSize:       8,
			CheckpointEvery: 50,
			KillGrace:       5 * time.Second,
		},
		State: StateConfig{
			Path: "state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
		Mirror: MirrorConfig{
			Container: "models",
			Prefix:    "qa-classifier",
		},
	}
}
