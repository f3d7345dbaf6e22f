package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// writeTool drops an executable script into binDir to stand in for a
// package manager.
func writeTool(t *testing.T, binDir, name, script string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write tool %s: %v", name, err)
	}
}

func newTestExecutor(t *testing.T, primary, fallback string, installTimeout, buildTimeout time.Duration) (*Executor, string, string) {
	t.Helper()
	binDir := t.TempDir()
	workDir := t.TempDir()
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	exec := New(config.BuildConfig{
		PrimaryTool:    primary,
		FallbackTool:   fallback,
		InstallTimeout: installTimeout,
		BuildTimeout:   buildTimeout,
	})
	return exec, binDir, workDir
}

func TestExecuteSuccess(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "fakebun", "fakenpm", 5*time.Second, 5*time.Second)

	// Each invocation appends "tool arg" to calls.log so the test can check
	// who ran what, in order.
	writeTool(t, binDir, "fakebun", `#!/bin/bash
echo "fakebun $1" >> calls.log
exit 0
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
echo "fakenpm $1" >> calls.log
exit 0
`)

	outcome, err := exec.Execute(context.Background(), "b1", workDir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(outcome.Phases) != 2 {
		t.Fatalf("len(Phases) = %d, want 2", len(outcome.Phases))
	}
	if outcome.Phases[0].Phase != PhaseInstall || outcome.Phases[0].Tool != "fakebun" {
		t.Errorf("phase 0 = %s/%s, want install/fakebun", outcome.Phases[0].Phase, outcome.Phases[0].Tool)
	}
	if outcome.Phases[1].Phase != PhaseBuild || outcome.Phases[1].Tool != "fakenpm" {
		t.Errorf("phase 1 = %s/%s, want build/fakenpm", outcome.Phases[1].Phase, outcome.Phases[1].Tool)
	}
	if outcome.Duration <= 0 {
		t.Error("Duration not recorded")
	}

	calls, err := os.ReadFile(filepath.Join(workDir, "calls.log"))
	if err != nil {
		t.Fatalf("read calls.log: %v", err)
	}
	want := "fakebun install\nfakenpm run\n"
	if string(calls) != want {
		t.Errorf("calls.log = %q, want %q", calls, want)
	}
}

func TestExecuteFallbackInstallOnce(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "fakebun", "fakenpm", 5*time.Second, 5*time.Second)

	writeTool(t, binDir, "fakebun", `#!/bin/bash
echo "bun install is broken here" >&2
exit 1
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
echo "fakenpm $1" >> calls.log
exit 0
`)

	outcome, err := exec.Execute(context.Background(), "b2", workDir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// primary install, fallback install, build
	if len(outcome.Phases) != 3 {
		t.Fatalf("len(Phases) = %d, want 3", len(outcome.Phases))
	}
	if outcome.Phases[0].ExitCode != 1 {
		t.Errorf("primary install exit = %d, want 1", outcome.Phases[0].ExitCode)
	}
	if outcome.Phases[1].Tool != "fakenpm" || outcome.Phases[1].Phase != PhaseInstall {
		t.Errorf("phase 1 = %s/%s, want install/fakenpm", outcome.Phases[1].Phase, outcome.Phases[1].Tool)
	}

	calls, _ := os.ReadFile(filepath.Join(workDir, "calls.log"))
	want := "fakenpm install\nfakenpm run\n"
	if string(calls) != want {
		t.Errorf("calls.log = %q, want %q (fallback must run exactly once)", calls, want)
	}
}

func TestExecuteMissingPrimaryFallsBack(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "no-such-tool-xyz", "fakenpm", 5*time.Second, 5*time.Second)

	writeTool(t, binDir, "fakenpm", `#!/bin/bash
exit 0
`)

	outcome, err := exec.Execute(context.Background(), "b3", workDir)
	if err != nil {
		t.Fatalf("Execute() error = %v, missing primary should fall back", err)
	}
	if len(outcome.Phases) != 3 {
		t.Fatalf("len(Phases) = %d, want 3", len(outcome.Phases))
	}
}

func TestExecuteBothInstallersFail(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "fakebun", "fakenpm", 5*time.Second, 5*time.Second)

	writeTool(t, binDir, "fakebun", `#!/bin/bash
echo "primary registry unreachable" >&2
exit 1
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
echo "fallback registry unreachable" >&2
exit 7
`)

	_, err := exec.Execute(context.Background(), "b4", workDir)
	var berr *BuildError
	if !errors.As(err, &berr) {
		t.Fatalf("Execute() error = %v, want *BuildError", err)
	}
	if berr.Phase != PhaseInstall || berr.Tool != "fakenpm" || berr.ExitCode != 7 {
		t.Errorf("BuildError = %+v, want final fallback attempt reported", berr)
	}
	if !strings.Contains(berr.Detail, "fallback registry unreachable") {
		t.Errorf("BuildError.Detail = %q, want the fallback attempt's stderr", berr.Detail)
	}
}

func TestExecuteToolchainMissing(t *testing.T) {
	exec, _, workDir := newTestExecutor(t, "no-such-tool-a", "no-such-tool-b", 5*time.Second, 5*time.Second)

	_, err := exec.Execute(context.Background(), "b5", workDir)
	var terr *ToolchainMissingError
	if !errors.As(err, &terr) {
		t.Fatalf("Execute() error = %v, want *ToolchainMissingError", err)
	}
	if len(terr.Tools) != 2 {
		t.Errorf("ToolchainMissingError.Tools = %v, want both tools listed", terr.Tools)
	}
}

func TestExecuteBuildFailureCarriesStderr(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "fakebun", "fakenpm", 5*time.Second, 5*time.Second)

	writeTool(t, binDir, "fakebun", `#!/bin/bash
exit 0
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
if [ "$1" = "install" ]; then exit 0; fi
echo "Module not found: ./missing" >&2
exit 2
`)

	_, err := exec.Execute(context.Background(), "b6", workDir)
	var berr *BuildError
	if !errors.As(err, &berr) {
		t.Fatalf("Execute() error = %v, want *BuildError", err)
	}
	if berr.Phase != PhaseBuild {
		t.Errorf("BuildError.Phase = %q, want build", berr.Phase)
	}
	if !strings.Contains(berr.Detail, "Module not found") {
		t.Errorf("BuildError.Detail = %q, want stderr content", berr.Detail)
	}
}

func TestExecuteBuildFailureUsesStdoutWhenStderrEmpty(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "fakebun", "fakenpm", 5*time.Second, 5*time.Second)

	writeTool(t, binDir, "fakebun", `#!/bin/bash
exit 0
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
if [ "$1" = "install" ]; then exit 0; fi
echo "build failed, see above"
exit 1
`)

	_, err := exec.Execute(context.Background(), "b7", workDir)
	var berr *BuildError
	if !errors.As(err, &berr) {
		t.Fatalf("Execute() error = %v, want *BuildError", err)
	}
	if !strings.Contains(berr.Detail, "build failed, see above") {
		t.Errorf("BuildError.Detail = %q, want stdout content", berr.Detail)
	}
}

func TestExecuteBuildTimeout(t *testing.T) {
	exec, binDir, workDir := newTestExecutor(t, "fakebun", "fakenpm", 5*time.Second, 1*time.Second)

	writeTool(t, binDir, "fakebun", `#!/bin/bash
exit 0
`)
	// exec so SIGTERM goes straight to sleep
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
if [ "$1" = "install" ]; then exit 0; fi
exec sleep 10
`)

	start := time.Now()
	outcome, err := exec.Execute(context.Background(), "b8", workDir)
	elapsed := time.Since(start)

	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Execute() error = %v, want *TimeoutError", err)
	}
	if terr.Phase != PhaseBuild {
		t.Errorf("TimeoutError.Phase = %q, want build", terr.Phase)
	}

	var berr *BuildError
	if errors.As(err, &berr) {
		t.Error("timeout must not be conflated with a build failure")
	}

	// Should terminate within reasonable time (1s timeout + 5s grace + margin)
	if elapsed > 8*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}

	// Elapsed phase duration close to the configured timeout.
	last := outcome.Phases[len(outcome.Phases)-1]
	if last.Duration < 1*time.Second || last.Duration > 4*time.Second {
		t.Errorf("timed-out phase duration = %v, want near 1s", last.Duration)
	}
}

func TestTruncateOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "short string unchanged", input: "short", want: 5},
		{name: "exactly at limit unchanged", input: string(make([]byte, maxLoggedOutputBytes)), want: maxLoggedOutputBytes},
		{name: "over limit truncated", input: string(make([]byte, maxLoggedOutputBytes+1000)), want: maxLoggedOutputBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateOutput(tt.input)
			if len(got) != tt.want {
				t.Errorf("truncateOutput() length = %d, want %d", len(got), tt.want)
			}
		})
	}
}
