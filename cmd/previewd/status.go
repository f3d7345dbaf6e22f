package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/previewd/internal/doctor"
	"github.com/mattjoyce/previewd/internal/lock"
)

type statusReport struct {
	Healthy    bool           `json:"healthy"`
	ConfigPath string         `json:"config_path"`
	LockPath   string         `json:"lock_path"`
	LockHeld   bool           `json:"lock_held"`
	LockPID    int            `json:"lock_pid,omitempty"`
	Database   string         `json:"database"`
	DBExists   bool           `json:"db_exists"`
	Validation *doctor.Result `json:"validation"`
}

// runSystemStatus reports host readiness without starting the service.
// An active PID lock means another instance already owns the data dir,
// so status treats it as a failure for scripting purposes.
func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output structured JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, resolvedPath, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	report := statusReport{
		ConfigPath: resolvedPath,
		LockPath:   getPIDLockPath(cfg),
		Database:   databasePath(cfg),
	}

	held, pid, err := lock.Probe(report.LockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock probe failed: %v\n", err)
		return 1
	}
	report.LockHeld = held
	report.LockPID = pid

	if _, err := os.Stat(report.Database); err == nil {
		report.DBExists = true
	}

	report.Validation = doctor.New(cfg).Validate()
	report.Healthy = report.Validation.Valid && !report.LockHeld

	if *jsonOut {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("Config: %s\n", report.ConfigPath)
		if report.LockHeld {
			fmt.Printf("Instance: running (pid %d, lock %s)\n", report.LockPID, report.LockPath)
		} else {
			fmt.Printf("Instance: not running (lock %s free)\n", report.LockPath)
		}
		if report.DBExists {
			fmt.Printf("Database: %s\n", report.Database)
		} else {
			fmt.Printf("Database: %s (not yet created)\n", report.Database)
		}
		fmt.Println("")
		fmt.Print(doctor.FormatText(report.Validation))
	}

	if !report.Healthy {
		return 1
	}
	return 0
}
