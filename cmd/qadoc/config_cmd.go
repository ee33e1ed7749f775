package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dsj7419/qa-doc-convert/internal/config"
)

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	cfg = cfg.Redacted()

	var result any = cfg
	if fs.NArg() > 0 {
		res, err := cfg.GetPath(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		result = res
	}

	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

type configCheckResult struct {
	Valid   bool   `json:"valid"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
	DataDir string `json:"data_dir,omitempty"`
}

// runConfigCheck validates syntax and values only. Environment checks live
// in system doctor.
func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		path = discovered
	}

	res := configCheckResult{Valid: true, Path: path}
	cfg, err := config.Load(path)
	if err != nil {
		res.Valid = false
		res.Error = err.Error()
	} else {
		res.Path = cfg.SourcePath
		res.DataDir = cfg.DataDir
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
	} else if res.Valid {
		fmt.Printf("Configuration valid: %s\n", res.Path)
	} else {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %s\n", res.Error)
	}

	if !res.Valid {
		return 1
	}
	return 0
}
