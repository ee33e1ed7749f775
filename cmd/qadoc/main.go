package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "training":
		return runTrainingNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runSystemStart(args)
	case "doctor":
		return runSystemDoctor(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: qadoc version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("qadoc %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`qadoc - training lifecycle manager for the QA document classifier

Usage:
  qadoc <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle and health
  training  Labeled examples and model training
  config    Configuration inspection

System Commands:
  system start      Run the training service (API, recovery) in the foreground
  system doctor     Check configuration, trainer and data directory

Training Commands:
  training stats    Show example counts per class
  training add      Add one labeled example
  training collect  Add the classified items of a processed document
  training train    Train the classifier (foreground locally)
  training status   Show training progress and recovery state
  training stop     Ask the running training to stop at the next step
  training watch    Live training monitor (needs the API)
  training reset    Clear examples, journal, checkpoints and the model
  training sample   Print a few examples per class
  training runs     Show recent training runs

Config Commands:
  config show       Print the effective configuration (secrets masked)
  config check      Validate the configuration file

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

When a qadoc service holds the data directory, training commands are sent
to its API instead of touching files directly.

Use 'qadoc <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runSystemStart(actionArgs)
	case "doctor":
		if hasHelpFlag(actionArgs) {
			printSystemDoctorHelp()
			return 0
		}
		return runSystemDoctor(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runTrainingNoun(args []string) int {
	if len(args) < 1 {
		printTrainingNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printTrainingNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	run, ok := trainingActions[action]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown training action: %s\n", action)
		return 1
	}
	if hasHelpFlag(actionArgs) {
		fmt.Println(run.usage)
		fmt.Println(run.summary)
		return 0
	}
	return run.fn(actionArgs)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: qadoc system <action>")
	fmt.Fprintln(w, "Actions: start, doctor")
}

func printTrainingNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: qadoc training <action> [flags]")
	fmt.Fprintln(w, "Actions: "+strings.Join(trainingActionNames, ", "))
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: qadoc config <action> [flags]")
	fmt.Fprintln(w, "Actions: show, check")
}

func printSystemStartHelp() {
	fmt.Println("Usage: qadoc system start [--config PATH]")
	fmt.Println("Run the training service in the foreground: crash recovery, the HTTP API")
	fmt.Println("when api.enabled is set, and a graceful stop on SIGINT/SIGTERM.")
}

func printSystemDoctorHelp() {
	fmt.Println("Usage: qadoc system doctor [--config PATH] [--json]")
	fmt.Println("Check the configuration, the trainer command and the data directory.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  No errors (warnings allowed)")
	fmt.Println("  1  One or more checks failed")
}

func printConfigShowHelp() {
	fmt.Println("Usage: qadoc config show [--config PATH] [--json] [path]")
	fmt.Println("Print the effective configuration, or the value at a dotted path.")
	fmt.Println("Secrets are masked.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: qadoc config check [--config PATH] [--json]")
	fmt.Println("Parse and validate the configuration without touching the data directory.")
}
