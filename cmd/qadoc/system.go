package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dsj7419/qa-doc-convert/internal/doctor"
	"github.com/dsj7419/qa-doc-convert/internal/lock"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/trainer"
)

func runSystemStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.SourcePath == "" {
		fmt.Fprintln(os.Stderr, "No config file found, using defaults")
	}

	log.SetupWriter(os.Stdout, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("qadoc starting", "version", version, "config", cfg.SourcePath, "data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, runtimeOptions{
		autoResume: cfg.Training.AutoResumeEnabled(),
		mirror:     true,
	})
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Error("another qadoc process holds the data directory", "path", cfg.Paths().LockFile, "error", err)
		} else {
			logger.Error("startup failed", "error", err)
		}
		return 1
	}

	if err := rt.trainer.Available(); err != nil {
		logger.Warn("trainer not available, training requests will be refused", "error", err)
	}

	st := rt.orch.Status()
	if st.RecoveryPending {
		logger.Info("training recovery pending", "checkpoint", st.RecoveryCheckpoint, "resumed", st.IsTraining)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		srv := rt.apiServer()
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("qadoc running (press Ctrl+C to stop)")
	runErr := g.Wait()
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}

	code := 0
	if runErr != nil {
		logger.Error("component failed", "error", runErr)
		code = 1
	}

	logger.Info("shutting down", "timeout", cfg.Training.ShutdownTimeout)
	if err := rt.Close(); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		code = 1
	}
	logger.Info("qadoc stopped")
	return code
}

func runSystemDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if *jsonOut {
			printDoctorJSON(&doctor.Result{
				Valid:  false,
				Errors: []doctor.Issue{{Category: "syntax", Message: err.Error()}},
			})
		} else {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		}
		return 1
	}
	setupToolLogging(cfg, false)

	tr := trainer.New(trainer.Options{Command: cfg.Trainer.Command, Args: cfg.Trainer.Args})
	result := doctor.New(cfg, tr).Validate()

	if *jsonOut {
		printDoctorJSON(result)
	} else {
		if cfg.SourcePath != "" {
			fmt.Printf("Config: %s\n", cfg.SourcePath)
		} else {
			fmt.Println("Config: defaults (no config file found)")
		}
		fmt.Printf("Data directory: %s (%s)\n", cfg.DataDir, result.Filesystem)
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func printDoctorJSON(r *doctor.Result) {
	out, err := doctor.FormatJSON(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return
	}
	fmt.Println(out)
}
