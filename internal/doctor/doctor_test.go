package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsj7419/qa-doc-convert/internal/artifact"
	"github.com/dsj7419/qa-doc-convert/internal/config"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/journal"
	"github.com/dsj7419/qa-doc-convert/internal/lock"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type fakeTrainer struct{ err error }

func (f fakeTrainer) Available() error { return f.err }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	return cfg
}

// seedHealthy writes a trainable dataset and a published model.
func seedHealthy(t *testing.T, cfg *config.Config) {
	t.Helper()
	paths := cfg.Paths()
	s, err := dataset.Open(dataset.Options{Path: paths.Dataset})
	require.NoError(t, err)
	texts := map[dataset.Role][]string{
		dataset.RoleQuestion: {"What is covered?", "How long is it?", "Who can claim?", "Where do I send it?"},
		dataset.RoleAnswer:   {"Parts and labour.", "Two full years.", "The original buyer.", "To the service centre."},
		dataset.RoleIgnore:   {"Page 3 of 12 here", "Table of contents", "Copyright notice", "Revision history"},
	}
	for role, list := range texts {
		for _, text := range list {
			_, err := s.Add(text, role, dataset.SourceInitial)
			require.NoError(t, err)
		}
	}

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "model.bin"), []byte("w"), 0o644))
	_, err = artifact.NewFSPublisher(paths.ModelDir, nil).Publish(context.Background(), training.Artifact{
		RunID:    "run-1",
		Dir:      src,
		LabelMap: training.NewLabelMap(dataset.Roles),
	})
	require.NoError(t, err)
}

func categories(issues []Issue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Category)
	}
	return out
}

func TestValidateHealthyDataDir(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	seedHealthy(t, cfg)

	r := New(cfg, fakeTrainer{}).Validate()
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Empty(t, r.Warnings)
	assert.NotEmpty(t, r.Filesystem)
	assert.Equal(t, "All checks passed.\n", FormatHuman(r))
}

func TestValidateFreshInstallOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	r := New(cfg, nil).Validate()
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	cats := categories(r.Warnings)
	assert.Contains(t, cats, "dataset")
	assert.Contains(t, cats, "model")
}

func TestValidateTrainerUnavailable(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	seedHealthy(t, cfg)

	r := New(cfg, fakeTrainer{err: errors.New("python3 not found in PATH")}).Validate()
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "trainer", r.Errors[0].Category)
	assert.Contains(t, FormatHuman(r), "ERROR [trainer] trainer.command: python3 not found")
}

func TestValidateCorruptDataset(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Paths().Dataset, []byte("{not json"), 0o644))

	r := New(cfg, nil).Validate()
	assert.False(t, r.Valid)
	assert.Contains(t, categories(r.Errors), "dataset")

	// With a good backup it is only a warning.
	require.NoError(t, os.WriteFile(cfg.Paths().Dataset+".bak", []byte(`{"question":[],"answer":[],"ignore":[]}`), 0o644))
	r = New(cfg, nil).Validate()
	assert.NotContains(t, categories(r.Errors), "dataset")
}

func TestValidateTamperedModel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	seedHealthy(t, cfg)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths().ModelDir, "model.bin"), []byte("changed"), 0o644))

	r := New(cfg, nil).Validate()
	assert.False(t, r.Valid)
	assert.Contains(t, categories(r.Errors), "model")
}

func TestValidatePendingRecovery(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	seedHealthy(t, cfg)
	_, err := journal.New(cfg.Paths().Journal).Write(journal.StatusInterrupted,
		journal.WithCheckpoint(filepath.Join(cfg.DataDir, "training_checkpoints", "checkpoint-50")))
	require.NoError(t, err)

	r := New(cfg, nil).Validate()
	assert.True(t, r.Valid)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "journal", r.Warnings[0].Category)
	assert.Contains(t, r.Warnings[0].Message, "checkpoint-50 (missing on disk)")
}

func TestValidateTokenScopes(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	seedHealthy(t, cfg)
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APITokenConfig{
		{Token: "a", Scopes: []string{"training:ro", "plugin:rw"}},
		{Token: "${CI_TOKEN}", Scopes: []string{"*"}},
	}

	r := New(cfg, nil).Validate()
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "api.auth.tokens[0].scopes[1]", r.Errors[0].Field)
	assert.Contains(t, categories(r.Warnings), "env_vars")
}

func TestValidateNoticesRunningService(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	seedHealthy(t, cfg)
	l, err := lock.Acquire(cfg.Paths().LockFile)
	require.NoError(t, err)
	defer l.Release()

	r := New(cfg, nil).Validate()
	assert.True(t, r.Valid)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "service", r.Warnings[0].Category)
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: false, Errors: []Issue{{Category: "x", Message: "y"}}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"valid": false`))
}
