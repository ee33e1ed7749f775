package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/api"
	"github.com/dsj7419/qa-doc-convert/internal/artifact"
	"github.com/dsj7419/qa-doc-convert/internal/auth"
	"github.com/dsj7419/qa-doc-convert/internal/checkpoint"
	"github.com/dsj7419/qa-doc-convert/internal/config"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/journal"
	"github.com/dsj7419/qa-doc-convert/internal/lock"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/storage"
	"github.com/dsj7419/qa-doc-convert/internal/trainer"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

const mirrorSetupTimeout = 30 * time.Second

// runtime is every collaborator of the orchestrator, opened against one
// data directory while holding its lock.
type runtime struct {
	cfg    *config.Config
	paths  config.Paths
	logger *slog.Logger

	lock      *lock.DataDirLock
	db        *sql.DB
	history   *history.Store
	hub       *events.Hub
	dataset   *dataset.Store
	trainer   *trainer.Exec
	publisher *artifact.FSPublisher
	orch      *training.Orchestrator
}

type runtimeOptions struct {
	// autoResume lets recovery restart an interrupted run on open.
	autoResume bool
	// mirror attaches the remote model mirror when it is enabled in config.
	mirror bool
}

// openRuntime locks the data directory and wires the orchestrator. The
// returned error wraps lock.ErrLocked when another process holds it.
func openRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (_ *runtime, err error) {
	paths := cfg.Paths()
	if paths.DataDir == "" {
		return nil, errors.New("data_dir is not set and no home directory was found")
	}
	if err := os.MkdirAll(paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	rt := &runtime{cfg: cfg, paths: paths, logger: log.WithComponent("main")}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.lock, err = lock.Acquire(paths.LockFile)
	if err != nil {
		return nil, err
	}
	rt.logger.Debug("acquired data directory lock", "path", paths.LockFile)

	rt.db, err = storage.OpenSQLite(ctx, paths.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	rt.history = history.New(rt.db)
	if n, err := rt.history.RecoverOrphans(ctx); err != nil {
		return nil, fmt.Errorf("recover run history: %w", err)
	} else if n > 0 {
		rt.logger.Info("marked orphaned runs interrupted", "count", n)
	}

	var mirror artifact.Mirror
	if opts.mirror && cfg.Mirror.Enabled {
		m, err := setupMirror(ctx, cfg.Mirror)
		if err != nil {
			return nil, err
		}
		mirror = m
	}
	rt.publisher = artifact.NewFSPublisher(paths.ModelDir, mirror)
	if err := rt.publisher.RecoverInterrupted(); err != nil {
		return nil, fmt.Errorf("recover model directory: %w", err)
	}

	rt.dataset, err = dataset.Open(dataset.Options{
		Path:          paths.Dataset,
		SeedPath:      cfg.Resolve(cfg.Dataset.SeedPath),
		MinTextLength: cfg.Dataset.MinTextLength,
		MinTotal:      cfg.Training.MinTotalExamples,
		MinPerRole:    cfg.Training.MinPerRole,
	})
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	rt.trainer = trainer.New(trainer.Options{
		Command:         cfg.Trainer.Command,
		Args:            cfg.Trainer.Args,
		Env:             cfg.Trainer.Env,
		Epochs:          cfg.Trainer.Epochs,
		BatchSize:       cfg.Trainer.BatchSize,
		CheckpointEvery: cfg.Trainer.CheckpointEvery,
		KillGrace:       cfg.Trainer.KillGrace,
	})
	rt.hub = events.NewHub(events.DefaultCapacity)

	rt.orch, err = training.New(training.Deps{
		Dataset:     rt.dataset,
		Journal:     journal.New(paths.Journal),
		Checkpoints: checkpoint.NewRepository(paths.CheckpointDir, cfg.Training.CheckpointPrefix),
		Trainer:     rt.trainer,
		Publisher:   rt.publisher,
		History:     rt.history,
		Events:      rt.hub,
	}, training.Options{
		StalenessWindow:   cfg.Training.StalenessWindow,
		ContinueThreshold: cfg.ContinueThreshold(),
		AutoResume:        opts.autoResume,
		ScratchDir:        paths.ScratchDir,
		CancelGrace:       2 * cfg.Trainer.KillGrace,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// setupMirror creates the Azure mirror. A container that cannot be created
// yet is logged; uploads retry it on every publish.
func setupMirror(ctx context.Context, mc config.MirrorConfig) (*artifact.AzureMirror, error) {
	m, err := artifact.NewAzureMirror(artifact.AzureOptions{
		ConnectionString: mc.ConnectionString,
		Container:        mc.Container,
		Prefix:           mc.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("configure model mirror: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, mirrorSetupTimeout)
	defer cancel()
	if err := m.EnsureContainer(cctx); err != nil {
		log.WithComponent("main").Warn("model mirror not reachable, continuing", "container", mc.Container, "error", err)
	}
	return m, nil
}

// Close shuts the orchestrator down and releases the lock. It is safe on a
// partially opened runtime.
func (rt *runtime) Close() error {
	var errs []error
	if rt.orch != nil {
		if err := rt.orch.Shutdown(rt.cfg.Training.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run history: %w", err))
		}
	}
	if err := rt.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *runtime) apiServer() *api.Server {
	return api.New(apiConfig(rt.cfg), rt.orch, rt.history, rt.hub, log.WithComponent("api"))
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Name:   t.Name,
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	return api.Config{
		Listen:      cfg.API.Listen,
		APIKey:      cfg.API.Auth.APIKey,
		Tokens:      tokens,
		StopTimeout: cfg.Training.StopTimeout,
	}
}

// apiBaseURL turns a listen address into a URL a local client can dial.
// Wildcard hosts become loopback.
func apiBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// apiKeyFor picks the bearer token for talking to the local service.
func apiKeyFor(cfg *config.Config, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("QADOC_API_KEY"); env != "" {
		return env
	}
	return cfg.API.Auth.APIKey
}

// loadConfig loads an explicit config path or falls back to discovery and
// then defaults.
func loadConfig(configPath string) (*config.Config, error) {
	return config.LoadOrDefault(configPath)
}

// setupToolLogging sends logs to stderr so command output stays readable.
func setupToolLogging(cfg *config.Config, verbose bool) {
	level := "warn"
	if verbose {
		level = cfg.Service.LogLevel
	}
	log.SetupWriter(os.Stderr, level, "text")
}
