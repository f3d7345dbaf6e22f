package doctor

import (
	"errors"
	"strings"
	"testing"

	"github.com/mattjoyce/previewd/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Service.WorkspaceRoot = t.TempDir()
	cfg.Service.DataDir = t.TempDir()
	return cfg
}

// allToolsFound stands in for exec.LookPath in tests.
func allToolsFound(name string) (string, error) { return "/usr/bin/" + name, nil }

func TestValidateHealthyConfig(t *testing.T) {
	d := New(validConfig(t))
	d.lookPath = allToolsFound

	r := d.Validate()
	if !r.Valid {
		t.Fatalf("Validate() invalid, errors: %+v", r.Errors)
	}
}

func TestValidateMissingWorkspaceRoot(t *testing.T) {
	cfg := validConfig(t)
	cfg.Service.WorkspaceRoot = ""

	d := New(cfg)
	d.lookPath = allToolsFound

	r := d.Validate()
	if r.Valid {
		t.Fatal("Validate() accepted empty workspace_root")
	}
	if !hasIssue(r.Errors, "service.workspace_root") {
		t.Fatalf("no workspace_root error in %+v", r.Errors)
	}
}

func TestValidateMissingFallbackToolIsError(t *testing.T) {
	d := New(validConfig(t))
	d.lookPath = func(name string) (string, error) {
		if name == "npm" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	r := d.Validate()
	if r.Valid {
		t.Fatal("Validate() accepted missing fallback tool")
	}
	if !hasIssue(r.Errors, "build.fallback_tool") {
		t.Fatalf("no fallback_tool error in %+v", r.Errors)
	}
}

func TestValidateMissingPrimaryToolIsWarning(t *testing.T) {
	d := New(validConfig(t))
	d.lookPath = func(name string) (string, error) {
		if name == "bun" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	r := d.Validate()
	if !r.Valid {
		t.Fatalf("Validate() invalid, errors: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "build.primary_tool") {
		t.Fatalf("no primary_tool warning in %+v", r.Warnings)
	}
}

func TestValidateUnresolvedAPIToken(t *testing.T) {
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "${PREVIEWD_API_TOKEN}", Scopes: []string{"*"}},
	}

	d := New(cfg)
	d.lookPath = allToolsFound

	r := d.Validate()
	if r.Valid {
		t.Fatal("Validate() accepted unresolved token env var")
	}
	if !hasIssue(r.Errors, "api.auth.tokens[0]") {
		t.Fatalf("no token error in %+v", r.Errors)
	}
}

func TestFormatText(t *testing.T) {
	r := &Result{
		Valid: false,
		Errors: []Issue{
			{Category: "toolchain", Field: "build.fallback_tool", Message: "not found"},
		},
	}

	out := FormatText(r)
	if !strings.Contains(out, "Configuration INVALID") {
		t.Errorf("missing INVALID header: %q", out)
	}
	if !strings.Contains(out, "[toolchain] build.fallback_tool: not found") {
		t.Errorf("missing issue line: %q", out)
	}
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}
