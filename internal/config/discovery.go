package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppDirName is the per-user data directory name shared with earlier releases.
const AppDirName = "QA_Verifier"

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $QADOC_CONFIG_DIR, ~/.config/qadoc, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if dir := os.Getenv("QADOC_CONFIG_DIR"); dir != "" {
		if fileExists(filepath.Join(dir, "config.yaml")) {
			return filepath.Join(dir, "config.yaml"), nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "qadoc", "config.yaml")
		if fileExists(p) {
			return p, nil
		}
	}

	if fileExists("config.yaml") {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $QADOC_CONFIG_DIR, ~/.config/qadoc, ./config.yaml)")
}

// DefaultDataDir returns the platform user-data directory for qadoc state.
// It returns "" when no home directory can be determined.
func DefaultDataDir() string {
	return dataDirFor(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

func dataDirFor(goos string, getenv func(string) string, home func() (string, error)) string {
	switch goos {
	case "windows":
		if appData := getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppDirName)
		}
		h, err := home()
		if err != nil {
			return ""
		}
		return filepath.Join(h, "AppData", "Roaming", AppDirName)
	case "darwin":
		h, err := home()
		if err != nil {
			return ""
		}
		return filepath.Join(h, "Library", "Application Support", AppDirName)
	default:
		if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, AppDirName)
		}
		h, err := home()
		if err != nil {
			return ""
		}
		return filepath.Join(h, ".local", "share", AppDirName)
	}
}

// Resolve returns p unchanged when absolute, otherwise joined onto DataDir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Paths bundles the absolute locations of every durable artifact.
type Paths struct {
	DataDir       string
	Dataset       string
	Journal       string
	CheckpointDir string
	ModelDir      string
	StateDB       string
	LockFile      string
	ScratchDir    string
}

// Paths resolves all configured locations against DataDir.
func (c *Config) Paths() Paths {
	return Paths{
		DataDir:       c.DataDir,
		Dataset:       c.Resolve(c.Dataset.Path),
		Journal:       c.Resolve(c.Training.JournalPath),
		CheckpointDir: c.Resolve(c.Training.CheckpointDir),
		ModelDir:      c.Resolve(c.Training.ModelDir),
		StateDB:       c.Resolve(c.State.Path),
		LockFile:      filepath.Join(c.DataDir, "qadoc.lock"),
		ScratchDir:    filepath.Join(c.DataDir, "runs"),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
