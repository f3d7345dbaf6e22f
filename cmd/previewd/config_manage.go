package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/doctor"
)

// lockedConfigFiles are the files covered by the .checksums manifest.
var lockedConfigFiles = []string{"config.yaml"}

const defaultConfigYAML = `# previewd configuration
service:
  name: previewd
  log_level: info
  log_format: json
  workspace_root: /var/lib/previewd/workspaces
  data_dir: /var/lib/previewd

limits:
  max_file_count: 2000
  max_file_bytes: 10485760       # 10 MiB per file
  max_project_bytes: 209715200   # 200 MiB staged
  max_disk_usage_percent: 90

build:
  primary_tool: bun
  fallback_tool: npm
  install_timeout: 120s
  build_timeout: 300s

retention:
  sweep_interval: 10m
  max_workspace_age: 24h
  record_retention: 168h

api:
  enabled: true
  listen: ":8080"
  auth:
    tokens:
      - token: ${PREVIEWD_API_TOKEN}
        scopes: ["*"]
`

func printConfigInitHelp() {
	fmt.Println("Usage: previewd config init [--dir PATH] [--force]")
	fmt.Println("Write a default config.yaml and lock it with checksums.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: previewd config check [--config PATH] [--json]")
	fmt.Println("Validate configuration and host readiness (doctor checks).")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid, no warnings")
	fmt.Println("  1  Validation errors")
	fmt.Println("  2  Valid with warnings")
}

func printConfigLockHelp() {
	fmt.Println("Usage: previewd config lock [--dir PATH] [--dry-run]")
	fmt.Println("Compute BLAKE3 hashes for config files and write the .checksums manifest.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: previewd config show [--config PATH]")
	fmt.Println("Print the resolved configuration (defaults and env overrides applied).")
}

func runConfigInit(args []string) int {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	dir := fs.String("dir", "", "Config directory (default: ~/.config/previewd)")
	force := fs.Bool("force", false, "Overwrite an existing config.yaml")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	configDir := *dir
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot resolve home directory: %v\n", err)
			return 1
		}
		configDir = filepath.Join(homeDir, ".config", "previewd")
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config directory: %v\n", err)
		return 1
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Config already exists: %s (use --force to overwrite)\n", configPath)
		return 1
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Printf("Created: %s\n", configPath)

	if err := config.Lock(configDir, lockedConfigFiles); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}
	fmt.Printf("Locked: %s\n", filepath.Join(configDir, ".checksums"))
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  export PREVIEWD_API_TOKEN=<your-secret>")
	fmt.Printf("  previewd config check --config %s\n", configDir)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
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

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Printf("Config: %s\n\n", resolvedPath)
		fmt.Print(doctor.FormatText(result))
	}

	if !result.Valid {
		return 1
	}
	if len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	dir := fs.String("dir", "", "Config directory (default: discovered)")
	dryRun := fs.Bool("dry-run", false, "Show hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	configDir := *dir
	if configDir == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Discover config failed: %v\n", err)
			return 1
		}
		info, err := os.Stat(discovered)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config target not found: %v\n", err)
			return 1
		}
		if info.IsDir() {
			configDir = discovered
		} else {
			configDir = filepath.Dir(discovered)
		}
	}

	report, err := config.LockWithReport(configDir, lockedConfigFiles, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	fmt.Printf("Config dir: %s\n", report.ConfigDir)
	for _, file := range report.Files {
		if !file.Exists {
			fmt.Printf("  %s: (missing, skipped)\n", file.Filename)
			continue
		}
		fmt.Printf("  %s: blake3:%s\n", file.Filename, file.Hash)
	}
	if report.Written {
		fmt.Printf("Wrote: %s\n", report.ChecksumPath)
	} else {
		fmt.Println("Dry run, nothing written")
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, resolvedPath, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	// Token secrets are redacted before display.
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = "<redacted>"
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}

	fmt.Printf("# resolved from %s\n", resolvedPath)
	fmt.Print(string(out))
	return 0
}

// --- API CLIENT ACTIONS ---

var skippedSubmitDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

func runBuildSubmit(args []string) int {
	fs := flag.NewFlagSet("build submit", flag.ContinueOnError)
	dir := fs.String("dir", "", "Project directory to submit")
	apiURL := fs.String("api-url", "http://localhost:8080", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("PREVIEWD_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: --dir is required")
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or PREVIEWD_API_KEY env var.")
		return 1
	}

	files, err := collectProjectFiles(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read project directory: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No files found under %s\n", *dir)
		return 1
	}

	payload, err := json.Marshal(map[string]any{"files": files})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode request: %v\n", err)
		return 1
	}

	fmt.Printf("Submitting %d files from %s\n", len(files), *dir)

	// Builds run synchronously server-side, so allow a long response window.
	client := &http.Client{Timeout: 15 * time.Minute}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*apiURL, "/")+"/api/v1/builds", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+*apiKey)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read response: %v\n", err)
		return 1
	}

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			fmt.Fprintf(os.Stderr, "Build failed (%d, %s): %s\n", resp.StatusCode, apiErr.Kind, apiErr.Error)
		} else {
			fmt.Fprintf(os.Stderr, "Build failed (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return 1
	}

	var result struct {
		ProjectID       string `json:"projectId"`
		ProjectType     string `json:"projectType"`
		OutputDirName   string `json:"outputDirName"`
		BuildDurationMs int64  `json:"buildDurationMs"`
		FileCount       int    `json:"fileCount"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode response: %v\n", err)
		return 1
	}

	fmt.Printf("Build succeeded: %s\n", result.ProjectID)
	fmt.Printf("  Type: %s\n", result.ProjectType)
	fmt.Printf("  Output: %s\n", result.OutputDirName)
	fmt.Printf("  Duration: %dms\n", result.BuildDurationMs)
	fmt.Printf("  Preview: %s/previews/%s/\n", strings.TrimRight(*apiURL, "/"), result.ProjectID)
	return 0
}

func runBuildList(args []string) int {
	fs := flag.NewFlagSet("build list", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "Maximum records to list")
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

	url := fmt.Sprintf("%s/api/v1/builds?limit=%d", strings.TrimRight(*apiURL, "/"), *limit)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		return 1
	}
	req.Header.Set("Authorization", "Bearer "+*apiKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read response: %v\n", err)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "List failed (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}

	var records []struct {
		ProjectID   string  `json:"projectId"`
		ProjectType string  `json:"projectType"`
		Status      string  `json:"status"`
		ErrorKind   *string `json:"errorKind"`
		DurationMs  int64   `json:"buildDurationMs"`
		CreatedAt   string  `json:"createdAt"`
	}
	if err := json.Unmarshal(body, &records); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode response: %v\n", err)
		return 1
	}

	if len(records) == 0 {
		fmt.Println("No builds recorded.")
		return 0
	}

	fmt.Printf("%-36s  %-10s  %-10s  %-10s  %s\n", "BUILD", "STATUS", "TYPE", "DURATION", "CREATED")
	for _, r := range records {
		status := r.Status
		if r.ErrorKind != nil {
			status = fmt.Sprintf("%s (%s)", r.Status, *r.ErrorKind)
		}
		fmt.Printf("%-36s  %-10s  %-10s  %-10s  %s\n",
			r.ProjectID, status, r.ProjectType, fmt.Sprintf("%dms", r.DurationMs), r.CreatedAt)
	}
	return 0
}

// collectProjectFiles reads a project directory into the submission map.
// Keys are slash-separated relative paths. VCS and dependency directories
// are skipped since the service installs dependencies itself.
func collectProjectFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedSubmitDirs[d.Name()] && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
