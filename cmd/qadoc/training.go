package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dsj7419/qa-doc-convert/internal/api"
	"github.com/dsj7419/qa-doc-convert/internal/config"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/lock"
	"github.com/dsj7419/qa-doc-convert/internal/training"
	"github.com/dsj7419/qa-doc-convert/internal/tui/watch"
)

const remoteTimeout = 30 * time.Second

const (
	addUsage     = "Usage: qadoc training add --role question|answer|ignore [--source SOURCE] [--config PATH] TEXT..."
	collectUsage = "Usage: qadoc training collect [--config PATH] [--json] FILE|-"
)

type trainingAction struct {
	usage   string
	summary string
	fn      func(args []string) int
}

var trainingActionNames = []string{"stats", "add", "collect", "train", "status", "stop", "watch", "reset", "sample", "runs"}

var trainingActions = map[string]trainingAction{
	"stats": {
		usage:   "Usage: qadoc training stats [--config PATH] [--json]",
		summary: "Show the number of examples per class and whether training can run.",
		fn:      runTrainingStats,
	},
	"add": {
		usage:   addUsage,
		summary: "Add one labeled example. Existing text is moved to the new role.",
		fn:      runTrainingAdd,
	},
	"collect": {
		usage:   collectUsage,
		summary: "Add the classified items of a processed document. FILE holds a JSON array of {\"text\",\"role\"} or {\"items\": [...]}.",
		fn:      runTrainingCollect,
	},
	"train": {
		usage:   "Usage: qadoc training train [--force] [--detach] [--config PATH] [--json]",
		summary: "Train the classifier. Locally it runs in the foreground; Ctrl+C stops at the next step and keeps the checkpoint.",
		fn:      runTrainingTrain,
	},
	"status": {
		usage:   "Usage: qadoc training status [--config PATH] [--json]",
		summary: "Show training progress and pending crash recovery.",
		fn:      runTrainingStatus,
	},
	"stop": {
		usage:   "Usage: qadoc training stop [--timeout 30s] [--config PATH] [--json]",
		summary: "Ask the running training to stop and wait up to the timeout.",
		fn:      runTrainingStop,
	},
	"watch": {
		usage:   "Usage: qadoc training watch [--config PATH] [--api-key KEY]",
		summary: "Live training monitor for a running qadoc service. Keys: q quit, s stop training, r refresh.",
		fn:      runTrainingWatch,
	},
	"reset": {
		usage:   "Usage: qadoc training reset [--yes] [--config PATH]",
		summary: "Remove every example, the training journal, checkpoints and the published model.",
		fn:      runTrainingReset,
	},
	"sample": {
		usage:   "Usage: qadoc training sample [--count 5] [--config PATH] [--json]",
		summary: "Print the oldest examples of each class. Needs the data directory unlocked.",
		fn:      runTrainingSample,
	},
	"runs": {
		usage:   "Usage: qadoc training runs [--limit 10] [--config PATH] [--json] [RUN_ID]",
		summary: "Show recent training runs, or one run in detail.",
		fn:      runTrainingRuns,
	},
}

// commonFlags are accepted by every training action.
type commonFlags struct {
	configPath string
	apiKey     string
	jsonOut    bool
	verbose    bool
}

func newTrainingFlagSet(name string, cf *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cf.configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&cf.apiKey, "api-key", "", "Bearer token for a running service (or QADOC_API_KEY)")
	fs.BoolVar(&cf.jsonOut, "json", false, "Output in structured JSON format")
	fs.BoolVar(&cf.verbose, "verbose", false, "Log at the configured level on stderr")
	return fs
}

// backend is the training surface shared by the in-process orchestrator
// and a running service's API.
type backend interface {
	Status(ctx context.Context) (api.StatusResponse, error)
	Stats(ctx context.Context) (api.StatsResponse, error)
	AddExample(ctx context.Context, req api.AddExampleRequest) (api.AddExampleResponse, error)
	Collect(ctx context.Context, req api.CollectRequest) (api.CollectResponse, error)
	StopTraining(ctx context.Context, timeout time.Duration) (api.StopResponse, error)
	Reset(ctx context.Context) error
	Runs(ctx context.Context, limit int) ([]history.Run, error)
	Run(ctx context.Context, id string) (*history.Run, error)
	Close() error
}

type localBackend struct {
	rt *runtime
}

func (b *localBackend) Status(context.Context) (api.StatusResponse, error) {
	o := b.rt.orch
	return api.StatusResponse{
		Status:        o.Status(),
		NeedsTraining: o.NeedsTraining(),
		HasEnoughData: o.HasEnoughData(),
	}, nil
}

func (b *localBackend) Stats(context.Context) (api.StatsResponse, error) {
	return api.StatsResponse{Stats: b.rt.orch.Stats(), HasEnoughData: b.rt.orch.HasEnoughData()}, nil
}

func (b *localBackend) AddExample(_ context.Context, req api.AddExampleRequest) (api.AddExampleResponse, error) {
	role, err := dataset.ParseRole(req.Role)
	if err != nil {
		return api.AddExampleResponse{}, err
	}
	source, err := dataset.ParseSource(req.Source)
	if err != nil {
		return api.AddExampleResponse{}, err
	}
	added, err := b.rt.orch.AddExample(req.Text, role, source)
	if err != nil {
		return api.AddExampleResponse{}, err
	}
	return api.AddExampleResponse{Added: added, Stats: b.rt.orch.Stats()}, nil
}

func (b *localBackend) Collect(_ context.Context, req api.CollectRequest) (api.CollectResponse, error) {
	messages := []string{}
	res, err := b.rt.orch.Collect(req.Items, func(msg string) {
		messages = append(messages, msg)
	})
	if err != nil {
		return api.CollectResponse{}, err
	}
	return api.CollectResponse{CollectResult: res, Messages: messages, Stats: b.rt.orch.Stats()}, nil
}

func (b *localBackend) StopTraining(_ context.Context, timeout time.Duration) (api.StopResponse, error) {
	return api.StopResponse{Outcome: b.rt.orch.StopGracefully(timeout)}, nil
}

func (b *localBackend) Reset(context.Context) error {
	return b.rt.orch.Reset()
}

func (b *localBackend) Runs(ctx context.Context, limit int) ([]history.Run, error) {
	return b.rt.history.Recent(ctx, limit)
}

func (b *localBackend) Run(ctx context.Context, id string) (*history.Run, error) {
	return b.rt.history.Get(ctx, id)
}

func (b *localBackend) Close() error {
	return b.rt.Close()
}

type remoteBackend struct {
	*api.Client
}

func (remoteBackend) Close() error { return nil }

// openBackend opens the data directory directly, or talks to the service
// that holds it.
func openBackend(ctx context.Context, cf commonFlags, opts runtimeOptions) (*config.Config, backend, error) {
	cfg, err := loadConfig(cf.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	setupToolLogging(cfg, cf.verbose)

	rt, err := openRuntime(ctx, cfg, opts)
	if err == nil {
		return cfg, &localBackend{rt: rt}, nil
	}
	if !errors.Is(err, lock.ErrLocked) {
		return nil, nil, err
	}
	if !cfg.API.Enabled {
		return nil, nil, fmt.Errorf("%w; enable the API in the service config to control it from here", err)
	}
	return cfg, remoteBackend{api.NewClient(apiBaseURL(cfg.API.Listen), apiKeyFor(cfg, cf.apiKey))}, nil
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func closeBackend(b backend) {
	if err := b.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func runTrainingStats(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("stats", &cf)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	st, err := b.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(st)
	}
	printStats(st.Stats)
	fmt.Printf("Enough data to train: %s\n", yesNo(st.HasEnoughData))
	return 0
}

func printStats(st dataset.Stats) {
	fmt.Println("=== Training Data Statistics ===")
	fmt.Printf("Total examples: %d\n", st.Total)
	fmt.Println("Examples by class:")
	for _, role := range dataset.Roles {
		fmt.Printf("  - %s: %d\n", role, st.ByRole[role])
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runTrainingAdd(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("add", &cf)
	role := fs.String("role", "", "Class of the example: question, answer or ignore")
	source := fs.String("source", string(dataset.SourceUserCorrection), "Where the example came from")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *role == "" || text == "" {
		fmt.Fprintln(os.Stderr, addUsage)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	resp, err := b.AddExample(ctx, api.AddExampleRequest{Text: text, Role: *role, Source: *source})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(resp)
	}
	if resp.Added {
		fmt.Printf("Added %s example (%d total)\n", strings.ToLower(*role), resp.Stats.Total)
	} else {
		fmt.Println("Example already present with that class; nothing changed")
	}
	return 0
}

// readLabeledItems accepts a bare JSON array or an object with an items key.
func readLabeledItems(r io.Reader) ([]dataset.LabeledItem, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var items []dataset.LabeledItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse items: %w", err)
		}
		return items, nil
	}
	var req api.CollectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	return req.Items, nil
}

func runTrainingCollect(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("collect", &cf)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, collectUsage)
		return 1
	}

	in := os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}
	items, err := readLabeledItems(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	resp, err := b.Collect(ctx, api.CollectRequest{Items: items})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(resp)
	}
	for _, msg := range resp.Messages {
		fmt.Println(msg)
	}
	fmt.Printf("Added %d of %d items (undetermined %d, too short %d, already present %d)\n",
		resp.Added, len(items), resp.SkippedUndetermined, resp.SkippedShort, resp.SkippedDuplicate)
	return 0
}

func runTrainingTrain(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("train", &cf)
	force := fs.Bool("force", false, "Train even if the dataset has not changed since the last model")
	detach := fs.Bool("detach", false, "With a running service, return once training has started")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, b, err := openBackend(ctx, cf, runtimeOptions{mirror: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	switch b := b.(type) {
	case *localBackend:
		return trainLocal(ctx, stop, cfg, b.rt.orch, *force, cf.jsonOut)
	case remoteBackend:
		return trainRemote(ctx, b.Client, *force, *detach, cf.jsonOut)
	}
	return 1
}

// trainLocal runs one training job in this process. The first signal asks
// the worker to stop at its next step; a second one kills the process.
func trainLocal(ctx context.Context, restoreSignals func(), cfg *config.Config, orch *training.Orchestrator, force, jsonOut bool) int {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			restoreSignals()
			fmt.Fprintln(os.Stderr, "Stopping training at the next step (Ctrl+C again to abort)...")
			orch.StopGracefully(cfg.Training.StopTimeout)
		case <-finished:
		}
	}()

	if !jsonOut {
		fmt.Println("Training model...")
	}
	ok, err := orch.Start(context.Background(), training.StartOptions{
		Force:   force,
		Trigger: training.TriggerCLI,
		Progress: func(p training.Progress) {
			if jsonOut {
				data, _ := json.Marshal(p)
				fmt.Println(string(data))
				return
			}
			fmt.Printf("[%s] %s\n", p.Phase, p.Message)
		},
	})
	if err != nil {
		return reportStartError(err)
	}

	final := orch.Status().Progress
	switch {
	case ok:
		if !jsonOut {
			fmt.Println("Model training successful!")
		}
		return 0
	case final.Phase == training.PhaseInterrupted:
		if !jsonOut {
			fmt.Println("Training stopped. The next run resumes from the last checkpoint.")
		}
		return 0
	default:
		if !jsonOut {
			fmt.Printf("Model training failed: %s\n", final.Message)
		}
		return 1
	}
}

func reportStartError(err error) int {
	var apiErr *api.APIError
	switch {
	case errors.Is(err, training.ErrInsufficientData):
		fmt.Fprintln(os.Stderr, "Not enough training data to train a reliable model.")
		fmt.Fprintln(os.Stderr, "Add more examples before training.")
	case errors.Is(err, training.ErrNothingToDo):
		fmt.Fprintln(os.Stderr, "No new examples since the last successful training. Use --force to retrain.")
	case errors.Is(err, training.ErrAlreadyRunning):
		fmt.Fprintln(os.Stderr, "Training is already running.")
	case errors.As(err, &apiErr):
		fmt.Fprintf(os.Stderr, "Error: %s\n", apiErr.Message)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

// trainRemote starts training on a running service and, unless detached,
// follows its events until the run finishes.
func trainRemote(ctx context.Context, client *api.Client, force, detach, jsonOut bool) int {
	sctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	resp, err := client.StartTraining(sctx, force)
	cancel()
	if err != nil {
		return reportStartError(err)
	}
	if !jsonOut {
		fmt.Printf("Training started on %s (run %s)\n", client.BaseURL(), resp.RunID)
	}
	if detach {
		if jsonOut {
			return printJSON(resp)
		}
		return 0
	}

	fctx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	var final history.Status
	_, err = client.Stream(fctx, 0, func(e events.Event) {
		status, done := followEvent(e, resp.RunID, jsonOut)
		if done {
			final = status
			stopFollow()
		}
	})
	if final == "" {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Stopped following. Training continues on the service; use 'qadoc training stop' to stop it.")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Lost the event stream: %v\n", err)
		return 1
	}
	if !jsonOut {
		fmt.Printf("Training finished: %s\n", final)
	}
	if final == history.StatusFailed || final == history.StatusNotExported {
		return 1
	}
	return 0
}

// followEvent prints events of runID and reports its terminal status.
func followEvent(e events.Event, runID string, jsonOut bool) (history.Status, bool) {
	switch e.Type {
	case events.TypeProgress:
		var p training.Progress
		if err := e.Decode(&p); err != nil || p.RunID != runID {
			return "", false
		}
		if jsonOut {
			fmt.Println(string(e.Data))
		} else {
			fmt.Printf("[%s] %s\n", p.Phase, p.Message)
		}
	case events.TypeFinished:
		var f struct {
			RunID  string         `json:"run_id"`
			Status history.Status `json:"status"`
			Error  string         `json:"error"`
		}
		if err := e.Decode(&f); err != nil || f.RunID != runID {
			return "", false
		}
		if jsonOut {
			fmt.Println(string(e.Data))
		} else if f.Error != "" {
			fmt.Printf("Error: %s\n", f.Error)
		}
		return f.Status, true
	}
	return "", false
}

func runTrainingStatus(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("status", &cf)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	st, err := b.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(st)
	}

	fmt.Printf("Training: %s\n", yesNo(st.IsTraining))
	fmt.Printf("Phase: %s\n", st.Progress.Phase)
	if st.Progress.Message != "" {
		fmt.Printf("Message: %s\n", st.Progress.Message)
	}
	if st.RunID != "" {
		fmt.Printf("Run: %s\n", st.RunID)
	}
	if st.Progress.Step > 0 || st.Progress.Epoch > 0 {
		fmt.Printf("Step: %d  Epoch: %.2f\n", st.Progress.Step, st.Progress.Epoch)
	}
	if st.RecoveryPending {
		fmt.Printf("Recovery pending from: %s\n", st.RecoveryCheckpoint)
	}
	fmt.Printf("Needs training: %s\n", yesNo(st.NeedsTraining))
	fmt.Printf("Enough data: %s\n", yesNo(st.HasEnoughData))
	return 0
}

func runTrainingStop(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("stop", &cf)
	timeout := fs.Duration("timeout", 0, "How long to wait for the trainer (default training.stop_timeout)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx := context.Background()
	cfg, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	wait := *timeout
	if wait <= 0 {
		wait = cfg.Training.StopTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, wait+remoteTimeout)
	defer cancel()
	resp, err := b.StopTraining(rctx, wait)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(resp)
	}
	switch resp.Outcome {
	case training.StopNotRunning:
		fmt.Println("No training is running")
	case training.StopConfirmed:
		fmt.Println("Training stopped; progress is saved in the last checkpoint")
	case training.StopForced:
		fmt.Printf("Trainer did not confirm within %s; the run is marked interrupted and may still be winding down\n", wait)
	}
	return 0
}

func runTrainingWatch(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("watch", &cf)
	apiURL := fs.String("api-url", "", "Service API URL (default from api.listen)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(cf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	setupToolLogging(cfg, false)

	base := *apiURL
	if base == "" {
		if !cfg.API.Enabled {
			fmt.Fprintln(os.Stderr, "Error: the API is disabled in this config; watch needs a running service with api.enabled")
			return 1
		}
		base = apiBaseURL(cfg.API.Listen)
	}
	client := api.NewClient(base, apiKeyFor(cfg, cf.apiKey))

	hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = client.Healthz(hctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no qadoc service reachable at %s: %v\n", base, err)
		return 1
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	p := tea.NewProgram(watch.New(ctx, client, cfg.Trainer.Epochs))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runTrainingReset(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("reset", &cf)
	yes := fs.Bool("yes", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if !*yes && !confirm(os.Stdin, "Are you sure you want to clear all training data? (yes/no): ") {
		fmt.Println("Operation cancelled.")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	if err := b.Reset(ctx); err != nil {
		if errors.Is(err, training.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "Training is running; stop it before resetting.")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("Training data cleared.")
	return 0
}

func confirm(in io.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func runTrainingSample(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("sample", &cf)
	count := fs.Int("count", 5, "Examples to print per class")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	local, ok := b.(*localBackend)
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: sample reads the dataset directly; stop the running service first")
		return 1
	}

	samples := local.rt.dataset.Sample(*count)
	if cf.jsonOut {
		return printJSON(samples)
	}
	for _, role := range dataset.Roles {
		fmt.Printf("%s (%d shown):\n", role, len(samples[role]))
		for _, text := range samples[role] {
			fmt.Printf("  - %s\n", text)
		}
	}
	return 0
}

func runTrainingRuns(args []string) int {
	var cf commonFlags
	fs := newTrainingFlagSet("runs", &cf)
	limit := fs.Int("limit", 10, "Number of runs to show")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_, b, err := openBackend(ctx, cf, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeBackend(b)

	if fs.NArg() > 0 {
		run, err := b.Run(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return printJSON(run)
	}

	runs, err := b.Runs(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cf.jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No training runs recorded")
		return 0
	}
	fmt.Println(renderRuns(runs))
	return 0
}

func renderRuns(runs []history.Run) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "TRIGGER", "STATUS", "EXAMPLES", "STEP", "STARTED", "FINISHED")
	for _, r := range runs {
		step := "-"
		if r.LastStep != nil {
			step = strconv.Itoa(*r.LastStep)
		}
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Local().Format("2006-01-02 15:04:05")
		}
		t.Row(
			r.ID,
			r.Trigger,
			string(r.Status),
			strconv.Itoa(r.Examples),
			step,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			finished,
		)
	}
	return t.String()
}
