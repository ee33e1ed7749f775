// Package doctor checks the qadoc configuration and the state of the data
// directory without modifying anything.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/dsj7419/qa-doc-convert/internal/artifact"
	"github.com/dsj7419/qa-doc-convert/internal/atomicfile"
	"github.com/dsj7419/qa-doc-convert/internal/auth"
	"github.com/dsj7419/qa-doc-convert/internal/checkpoint"
	"github.com/dsj7419/qa-doc-convert/internal/config"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/journal"
	"github.com/dsj7419/qa-doc-convert/internal/lock"
	"github.com/dsj7419/qa-doc-convert/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid      bool    `json:"valid"`
	Filesystem string  `json:"filesystem,omitempty"`
	Errors     []Issue `json:"errors,omitempty"`
	Warnings   []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// TrainerChecker reports whether the training collaborator can run.
type TrainerChecker interface {
	Available() error
}

// Doctor validates a loaded configuration against the machine it runs on.
type Doctor struct {
	cfg     *config.Config
	paths   config.Paths
	trainer TrainerChecker
}

// New creates a Doctor. trainer may be nil to skip the trainer check.
func New(cfg *config.Config, trainer TrainerChecker) *Doctor {
	return &Doctor{cfg: cfg, paths: cfg.Paths(), trainer: trainer}
}

var knownScopes = map[string]bool{
	auth.ScopeAll:        true,
	auth.ScopeTrainingRO: true,
	auth.ScopeTrainingRW: true,
	auth.ScopeDatasetRO:  true,
	auth.ScopeDatasetRW:  true,
	auth.ScopeEventsRO:   true,
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnMissingEnvVars(r)
	d.checkDataDir(r)
	d.checkTrainer(r)
	d.checkDataset(r)
	d.checkJournal(r)
	d.checkCheckpoints(r)
	d.checkModel(r)
	d.checkService(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			scope = strings.TrimSpace(scope)
			if !knownScopes[scope] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
	check("api.auth.api_key", d.cfg.API.Auth.APIKey)
	for i, tok := range d.cfg.API.Auth.Tokens {
		check(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token)
	}
	check("mirror.connection_string", d.cfg.Mirror.ConnectionString)
	for k, v := range d.cfg.Trainer.Env {
		check("trainer.env."+k, v)
	}
}

// checkDataDir requires a writable data directory on a local filesystem.
func (d *Doctor) checkDataDir(r *Result) {
	dir := d.paths.DataDir
	r.Filesystem = storage.FilesystemType(dir)
	if err := storage.ValidateLocalFilesystem(dir); err != nil {
		d.addError(r, "data_dir", "data_dir", err.Error())
		return
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "data_dir", "data_dir", fmt.Sprintf("%s does not exist yet; it is created on first use", dir))
		return
	case err != nil:
		d.addError(r, "data_dir", "data_dir", err.Error())
		return
	case !info.IsDir():
		d.addError(r, "data_dir", "data_dir", fmt.Sprintf("%s is not a directory", dir))
		return
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "data_dir", "data_dir", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

func (d *Doctor) checkTrainer(r *Result) {
	if d.trainer == nil {
		return
	}
	if err := d.trainer.Available(); err != nil {
		d.addError(r, "trainer", "trainer.command", err.Error())
	}
}

func (d *Doctor) checkDataset(r *Result) {
	path := d.paths.Dataset
	st, err := dataset.ReadStats(path)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "dataset", "dataset.path", fmt.Sprintf("%s does not exist yet", path))
		return
	case err != nil:
		if _, bakErr := dataset.ReadStats(path + atomicfile.BackupSuffix); bakErr == nil {
			d.addWarning(r, "dataset", "dataset.path", fmt.Sprintf("%v; a readable backup exists and will be restored on load", err))
			return
		}
		d.addError(r, "dataset", "dataset.path", err.Error())
		return
	}

	t := d.cfg.Training
	if st.Total < t.MinTotalExamples {
		d.addWarning(r, "dataset", "", fmt.Sprintf("%d examples; training needs at least %d", st.Total, t.MinTotalExamples))
	}
	for _, role := range dataset.Roles {
		if st.ByRole[role] < t.MinPerRole {
			d.addWarning(r, "dataset", "", fmt.Sprintf("role %q has %d examples; training needs at least %d", role, st.ByRole[role], t.MinPerRole))
		}
	}
}

func (d *Doctor) checkJournal(r *Result) {
	rec, err := journal.New(d.paths.Journal).Read()
	if err != nil {
		d.addError(r, "journal", "training.journal_path", err.Error())
		return
	}
	if rec == nil || !rec.Status.Resumable() {
		return
	}
	msg := fmt.Sprintf("last run is %s", rec.Status)
	if rec.LastCheckpoint != "" {
		msg += fmt.Sprintf(" with checkpoint %s", rec.LastCheckpoint)
		if !checkpoint.Exists(rec.LastCheckpoint) {
			msg += " (missing on disk)"
		}
	}
	d.addWarning(r, "journal", "", msg+"; recovery runs on next start")
}

func (d *Doctor) checkCheckpoints(r *Result) {
	repo := checkpoint.NewRepository(d.paths.CheckpointDir, d.cfg.Training.CheckpointPrefix)
	if _, err := repo.List(); err != nil {
		d.addError(r, "checkpoints", "training.checkpoint_dir", err.Error())
	}
}

func (d *Doctor) checkModel(r *Result) {
	err := artifact.NewFSPublisher(d.paths.ModelDir, nil).Verify()
	switch {
	case errors.Is(err, artifact.ErrNoArtifact):
		d.addWarning(r, "model", "training.model_dir", "no trained model published yet")
	case err != nil:
		d.addError(r, "model", "training.model_dir", err.Error())
	}
}

// checkService notes a running service holding the data directory.
func (d *Doctor) checkService(r *Result) {
	if !lock.Held(d.paths.LockFile) {
		return
	}
	msg := "a qadoc process holds the data directory"
	if pid, ok := lock.Holder(d.paths.LockFile); ok {
		msg = fmt.Sprintf("qadoc process %d holds the data directory", pid)
	}
	if d.cfg.API.Enabled {
		msg += "; local commands go through the API at " + d.cfg.API.Listen
	}
	d.addWarning(r, "service", "", msg)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("All checks passed.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "All checks passed (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Problems found (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
