package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/previewd/internal/api"
	"github.com/mattjoyce/previewd/internal/artifact"
	"github.com/mattjoyce/previewd/internal/auth"
	"github.com/mattjoyce/previewd/internal/builder"
	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/engine"
	"github.com/mattjoyce/previewd/internal/events"
	"github.com/mattjoyce/previewd/internal/guard"
	"github.com/mattjoyce/previewd/internal/inspect"
	"github.com/mattjoyce/previewd/internal/lock"
	"github.com/mattjoyce/previewd/internal/log"
	"github.com/mattjoyce/previewd/internal/storage"
	"github.com/mattjoyce/previewd/internal/store"
	"github.com/mattjoyce/previewd/internal/sweeper"
	"github.com/mattjoyce/previewd/internal/tui/watch"
	"github.com/mattjoyce/previewd/internal/workspace"
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
	case "config":
		return runConfigNoun(args)
	case "build":
		return runBuildNoun(args)
	case "workspace":
		return runWorkspaceNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "watch":
		return runWatch(args)
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
		fmt.Fprintln(os.Stderr, "Usage: previewd version [--json]")
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

	fmt.Printf("previewd %s\n", info.Version)
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

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
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
	fmt.Print(`previewd - Static preview build service

Usage:
  previewd <noun> <action> [flags]

Core Resources (Nouns):
  system     Service lifecycle and health
  config     Configuration and integrity
  build      Build submission and inspection
  workspace  Retained workspace maintenance

System Commands:
  system start      Start the service in foreground
  system status     Show service health (config, database, PID lock)
  system doctor     Validate config and host readiness
  system watch      Real-time monitoring TUI

Config Commands:
  config init       Initialize config directory with defaults
  config check      Validate config and host readiness
  config lock       Authorize current state (update integrity hashes)
  config show       Show resolved configuration

Build Commands:
  build submit      Submit a project directory for building (via API)
  build list        List recent builds (via API)
  build inspect     Show a build record and its artifacts

Workspace Commands:
  workspace sweep   Run one retention sweep now
  workspace destroy Remove a retained workspace

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'previewd <noun> help' for resource-specific flags.
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
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "doctor":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
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
	case "init":
		if hasHelpFlag(actionArgs) {
			printConfigInitHelp()
			return 0
		}
		return runConfigInit(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runBuildNoun(args []string) int {
	if len(args) < 1 {
		printBuildNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBuildNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "submit":
		if hasHelpFlag(actionArgs) {
			printBuildSubmitHelp()
			return 0
		}
		return runBuildSubmit(actionArgs)
	case "list":
		if hasHelpFlag(actionArgs) {
			printBuildListHelp()
			return 0
		}
		return runBuildList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printBuildInspectHelp()
			return 0
		}
		return runBuildInspect(actionArgs)
	case "help":
		printBuildNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown build action: %s\n", action)
		return 1
	}
}

func runWorkspaceNoun(args []string) int {
	if len(args) < 1 {
		printWorkspaceNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWorkspaceNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "sweep":
		if hasHelpFlag(actionArgs) {
			printWorkspaceSweepHelp()
			return 0
		}
		return runWorkspaceSweep(actionArgs)
	case "destroy":
		if hasHelpFlag(actionArgs) {
			printWorkspaceDestroyHelp()
			return 0
		}
		return runWorkspaceDestroy(actionArgs)
	case "help":
		printWorkspaceNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown workspace action: %s\n", action)
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
	fmt.Fprintln(w, "Usage: previewd system <action>")
	fmt.Fprintln(w, "Actions: start, status, doctor, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: previewd config <action> [flags]")
	fmt.Fprintln(w, "Actions: init, check, lock, show")
}

func printBuildNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: previewd build <action> [flags]")
	fmt.Fprintln(w, "Actions: submit, list, inspect")
}

func printWorkspaceNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: previewd workspace <action> [flags]")
	fmt.Fprintln(w, "Actions: sweep, destroy")
}

func printSystemStartHelp() {
	fmt.Println("Usage: previewd system start [--config PATH]")
	fmt.Println("Start the build service in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: previewd system status [--config PATH] [--json]")
	fmt.Println("Show service health (config, database readiness, and PID lock state).")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: previewd system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI.")
	fmt.Println("Shows service health, disk pressure, recent builds, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Service API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or PREVIEWD_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate builds")
}

func printBuildSubmitHelp() {
	fmt.Println("Usage: previewd build submit --dir PATH [--api-url URL] [--api-key KEY]")
	fmt.Println("Read a project directory and submit it for building via the API.")
}

func printBuildListHelp() {
	fmt.Println("Usage: previewd build list [--limit N] [--api-url URL] [--api-key KEY]")
	fmt.Println("List recent builds via the API.")
}

func printBuildInspectHelp() {
	fmt.Println("Usage: previewd build inspect <build_id> [--config PATH] [--json]")
	fmt.Println("Show a build record, its workspace state, and artifacts.")
}

func printWorkspaceSweepHelp() {
	fmt.Println("Usage: previewd workspace sweep [--config PATH]")
	fmt.Println("Run one retention sweep: evict expired workspaces and prune old records.")
}

func printWorkspaceDestroyHelp() {
	fmt.Println("Usage: previewd workspace destroy <workspace_id> [--config PATH]")
	fmt.Println("Remove a retained workspace immediately.")
}

// --- ACTION IMPLEMENTATIONS ---

func getPIDLockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Service.DataDir, "previewd.lock")
}

func databasePath(cfg *config.Config) string {
	return filepath.Join(cfg.Service.DataDir, "previewd.db")
}

func loadConfigArg(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// diskProber adapts storage.Snapshot for the API server.
type diskProber struct {
	path string
}

func (p diskProber) Snapshot() (*storage.DiskSnapshot, error) {
	return storage.Snapshot(p.path)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolvedPath, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("previewd starting", "version", version, "config", resolvedPath)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := databasePath(cfg)
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", dbPath)

	wsManager, err := workspace.NewFSManager(cfg.Service.WorkspaceRoot)
	if err != nil {
		logger.Error("failed to initialize workspace manager", "base_dir", cfg.Service.WorkspaceRoot, "error", err)
		return 1
	}

	hub := events.NewHub(256)
	records := store.New(db)
	diskGuard := guard.New(cfg.Service.WorkspaceRoot, cfg.Limits.MaxDiskUsagePercent, cfg.Limits.MaxProjectBytes)
	executor := builder.New(cfg.Build)
	resolver := artifact.NewResolver()

	eng := engine.New(cfg, wsManager, diskGuard, executor, resolver, records, hub, log.WithComponent("engine"))

	swp := sweeper.New(cfg.Retention, wsManager, records, hub, log.WithComponent("sweeper"))
	swp.Start(ctx)
	defer swp.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen:              cfg.API.Listen,
			Tokens:              tokens,
			MaxDiskUsagePercent: cfg.Limits.MaxDiskUsagePercent,
		}
		apiServer := api.New(apiConfig, eng, diskProber{path: cfg.Service.WorkspaceRoot}, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API disabled, service will only run retention sweeps")
	}

	logger.Info("previewd running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("previewd stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("PREVIEWD_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or PREVIEWD_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runBuildInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output structured JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: previewd build inspect <build_id> [--config PATH] [--json]")
		return 1
	}
	buildID := fs.Arg(0)

	cfg, _, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, databasePath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, db, cfg.Service.WorkspaceRoot, buildID)
	} else {
		out, err = inspect.BuildReport(ctx, db, cfg.Service.WorkspaceRoot, buildID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(out)
	return 0
}

func runWorkspaceSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	wsManager, err := workspace.NewFSManager(cfg.Service.WorkspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize workspace manager: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, databasePath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	swp := sweeper.New(cfg.Retention, wsManager, store.New(db), events.NewHub(8), log.WithComponent("sweeper"))
	swp.SweepOnce(ctx)
	return 0
}

func runWorkspaceDestroy(args []string) int {
	fs := flag.NewFlagSet("destroy", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: previewd workspace destroy <workspace_id> [--config PATH]")
		return 1
	}
	id := fs.Arg(0)

	cfg, _, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	wsManager, err := workspace.NewFSManager(cfg.Service.WorkspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize workspace manager: %v\n", err)
		return 1
	}

	if err := wsManager.Destroy(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "Destroy failed: %v\n", err)
		return 1
	}
	fmt.Printf("Destroyed workspace %s\n", id)
	return 0
}
