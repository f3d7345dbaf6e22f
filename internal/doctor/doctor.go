// Package doctor validates previewd configuration and host readiness.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config against the host it will run on.
type Doctor struct {
	cfg *config.Config

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkWorkspaceRoot(r)
	d.checkDataDir(r)
	d.checkToolchain(r)
	d.checkDiskHeadroom(r)
	d.checkAPITokens(r)
	d.warnGenerousLimits(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkWorkspaceRoot verifies the workspace root exists (or can be created)
// and is writable.
func (d *Doctor) checkWorkspaceRoot(r *Result) {
	root := d.cfg.Service.WorkspaceRoot
	if root == "" {
		d.addError(r, "workspace", "service.workspace_root", "workspace_root is required")
		return
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		d.addError(r, "workspace", "service.workspace_root",
			fmt.Sprintf("cannot create workspace root %s: %v", root, err))
		return
	}
	probe := filepath.Join(root, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		d.addError(r, "workspace", "service.workspace_root",
			fmt.Sprintf("workspace root %s is not writable: %v", root, err))
		return
	}
	_ = os.Remove(probe)
}

// checkDataDir verifies the data dir suits the build record database.
func (d *Doctor) checkDataDir(r *Result) {
	dir := d.cfg.Service.DataDir
	if dir == "" {
		d.addError(r, "storage", "service.data_dir", "data_dir is required")
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "storage", "service.data_dir",
			fmt.Sprintf("cannot create data dir %s: %v", dir, err))
		return
	}
	if err := storage.ValidateSQLiteFilesystem(filepath.Join(dir, "previewd.db")); err != nil {
		d.addError(r, "storage", "service.data_dir", err.Error())
	}
}

// checkToolchain verifies the configured package managers are on PATH.
// The fallback tool runs every build phase, so its absence is fatal; a
// missing primary only costs the faster install path.
func (d *Doctor) checkToolchain(r *Result) {
	primary := d.cfg.Build.PrimaryTool
	fallback := d.cfg.Build.FallbackTool

	if _, err := d.lookPath(fallback); err != nil {
		d.addError(r, "toolchain", "build.fallback_tool",
			fmt.Sprintf("fallback tool %q not found on PATH", fallback))
	}
	if _, err := d.lookPath(primary); err != nil {
		d.addWarning(r, "toolchain", "build.primary_tool",
			fmt.Sprintf("primary tool %q not found on PATH, installs will use %q", primary, fallback))
	}
}

// checkDiskHeadroom warns when the workspace volume is already near the
// admission ceiling.
func (d *Doctor) checkDiskHeadroom(r *Result) {
	snap, err := storage.Snapshot(d.cfg.Service.WorkspaceRoot)
	if err != nil || snap == nil {
		return
	}
	ceiling := float64(d.cfg.Limits.MaxDiskUsagePercent)
	if snap.UsedPercent >= ceiling {
		d.addError(r, "disk", "limits.max_disk_usage_percent",
			fmt.Sprintf("volume already at %.1f%% (ceiling %d%%), builds will be rejected", snap.UsedPercent, d.cfg.Limits.MaxDiskUsagePercent))
	} else if snap.UsedPercent >= ceiling-5 {
		d.addWarning(r, "disk", "limits.max_disk_usage_percent",
			fmt.Sprintf("volume at %.1f%% is within 5%% of the %d%% ceiling", snap.UsedPercent, d.cfg.Limits.MaxDiskUsagePercent))
	}
}

var envVarPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// checkAPITokens catches tokens whose env interpolation did not resolve.
func (d *Doctor) checkAPITokens(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth.tokens", "api is enabled but no tokens are configured")
		return
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if strings.TrimSpace(tok.Token) == "" {
			d.addError(r, "api", field, "token is empty")
			continue
		}
		if envVarPattern.MatchString(tok.Token) {
			d.addError(r, "api", field,
				fmt.Sprintf("token still contains %s, environment variable not set", envVarPattern.FindString(tok.Token)))
		}
	}
}

// warnGenerousLimits flags limits that defeat the point of having them.
func (d *Doctor) warnGenerousLimits(r *Result) {
	if d.cfg.Limits.MaxFileCount > 10_000 {
		d.addWarning(r, "limits", "limits.max_file_count",
			fmt.Sprintf("max_file_count %d is unusually high for preview projects", d.cfg.Limits.MaxFileCount))
	}
	if d.cfg.Limits.MaxProjectBytes > 2<<30 {
		d.addWarning(r, "limits", "limits.max_project_bytes",
			fmt.Sprintf("max_project_bytes %d exceeds 2GiB, sweeps may lag behind disk pressure", d.cfg.Limits.MaxProjectBytes))
	}
}

// FormatJSON renders a result for --json output.
func FormatJSON(r *Result) (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormatText renders a human-readable report.
func FormatText(r *Result) string {
	var sb strings.Builder

	if r.Valid {
		sb.WriteString("Configuration OK\n")
	} else {
		sb.WriteString("Configuration INVALID\n")
	}

	if len(r.Errors) > 0 {
		sb.WriteString(fmt.Sprintf("\n%d error(s):\n", len(r.Errors)))
		for _, issue := range r.Errors {
			writeIssue(&sb, issue)
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("\n%d warning(s):\n", len(r.Warnings)))
		for _, issue := range r.Warnings {
			writeIssue(&sb, issue)
		}
	}
	return sb.String()
}

func writeIssue(sb *strings.Builder, issue Issue) {
	if issue.Field != "" {
		sb.WriteString(fmt.Sprintf("  [%s] %s: %s\n", issue.Category, issue.Field, issue.Message))
	} else {
		sb.WriteString(fmt.Sprintf("  [%s] %s\n", issue.Category, issue.Message))
	}
}
