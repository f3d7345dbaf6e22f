// Package builder runs the external toolchain against a staged workspace:
// a dependency install phase with a primary/fallback package-manager policy,
// then a build phase. Each phase is one supervised subprocess with its own
// wall-clock budget.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/log"
)

const (
	// maxLoggedOutputBytes caps the command output echoed into logs. The
	// full output stays on the phase result.
	maxLoggedOutputBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// PhaseInstall and PhaseBuild name the two execution phases.
const (
	PhaseInstall = "install"
	PhaseBuild   = "build"
)

// ToolchainMissingError reports that no usable package manager resolved on PATH.
type ToolchainMissingError struct {
	Tools []string
}

func (e *ToolchainMissingError) Error() string {
	return fmt.Sprintf("toolchain missing: %s not found on PATH", strings.Join(e.Tools, ", "))
}

// BuildError reports a phase that exited non-zero after any fallback was
// exhausted. Detail carries stderr, or stdout when stderr was empty.
type BuildError struct {
	Phase    string
	Tool     string
	ExitCode int
	Detail   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s phase failed: %s exited %d", e.Phase, e.Tool, e.ExitCode)
}

// TimeoutError reports a phase that exceeded its wall-clock budget and was
// forcibly terminated. Distinct from BuildError by design; a killed build
// is not a broken build.
type TimeoutError struct {
	Phase   string
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s phase timed out after %v (%s)", e.Phase, e.Timeout, e.Tool)
}

// PhaseResult records one subprocess invocation.
type PhaseResult struct {
	Phase    string
	Tool     string
	Args     []string
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// Outcome is the result of one full execution: every phase attempt in
// order, plus the total elapsed time.
type Outcome struct {
	Phases   []PhaseResult
	Duration time.Duration
}

// Executor supervises toolchain subprocesses for one configured tool pair.
type Executor struct {
	primaryTool    string
	fallbackTool   string
	installTimeout time.Duration
	buildTimeout   time.Duration
	logger         *slog.Logger

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// New creates an Executor from build configuration.
func New(cfg config.BuildConfig) *Executor {
	return &Executor{
		primaryTool:    cfg.PrimaryTool,
		fallbackTool:   cfg.FallbackTool,
		installTimeout: cfg.InstallTimeout,
		buildTimeout:   cfg.BuildTimeout,
		logger:         log.WithComponent("builder"),
		lookPath:       exec.LookPath,
	}
}

// Execute runs the install and build phases against dir. The install phase
// tries the primary tool first and falls back to the secondary exactly once;
// the build phase always uses the secondary tool, which is the one assumed
// universally available.
func (e *Executor) Execute(ctx context.Context, buildID, dir string) (*Outcome, error) {
	logger := e.logger.With("build_id", buildID)

	// The build phase has no fallback, so a missing secondary tool fails
	// fast before any install work happens.
	if _, err := e.lookPath(e.fallbackTool); err != nil {
		if _, perr := e.lookPath(e.primaryTool); perr != nil {
			return nil, &ToolchainMissingError{Tools: []string{e.primaryTool, e.fallbackTool}}
		}
		return nil, &ToolchainMissingError{Tools: []string{e.fallbackTool}}
	}

	start := time.Now()
	outcome := &Outcome{}

	// Install phase: primary, then fallback once.
	res, err := e.runCommand(ctx, dir, PhaseInstall, e.primaryTool, []string{"install"}, e.installTimeout, logger)
	outcome.Phases = append(outcome.Phases, res)
	if timedOut(err) {
		outcome.Duration = time.Since(start)
		return outcome, &TimeoutError{Phase: PhaseInstall, Tool: e.primaryTool, Timeout: e.installTimeout}
	}
	if err != nil || res.ExitCode != 0 {
		// Retain the first failure in the logs before falling back, so its
		// detail is not silently lost.
		logger.Warn("primary install failed, falling back",
			"primary", e.primaryTool, "fallback", e.fallbackTool,
			"exit_code", res.ExitCode, "error", err,
			"stderr", truncateOutput(res.Stderr))

		res, err = e.runCommand(ctx, dir, PhaseInstall, e.fallbackTool, []string{"install"}, e.installTimeout, logger)
		outcome.Phases = append(outcome.Phases, res)
		if timedOut(err) {
			outcome.Duration = time.Since(start)
			return outcome, &TimeoutError{Phase: PhaseInstall, Tool: e.fallbackTool, Timeout: e.installTimeout}
		}
		if err != nil || res.ExitCode != 0 {
			outcome.Duration = time.Since(start)
			return outcome, phaseFailure(PhaseInstall, e.fallbackTool, res, err)
		}
	}

	// Build phase: always the fallback tool, no second attempt.
	res, err = e.runCommand(ctx, dir, PhaseBuild, e.fallbackTool, []string{"run", "build"}, e.buildTimeout, logger)
	outcome.Phases = append(outcome.Phases, res)
	outcome.Duration = time.Since(start)
	if timedOut(err) {
		return outcome, &TimeoutError{Phase: PhaseBuild, Tool: e.fallbackTool, Timeout: e.buildTimeout}
	}
	if err != nil || res.ExitCode != 0 {
		return outcome, phaseFailure(PhaseBuild, e.fallbackTool, res, err)
	}

	return outcome, nil
}

func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func phaseFailure(phase, tool string, res PhaseResult, err error) error {
	detail := res.Stderr
	if strings.TrimSpace(detail) == "" {
		detail = res.Stdout
	}
	if err != nil && strings.TrimSpace(detail) == "" {
		detail = err.Error()
	}
	return &BuildError{Phase: phase, Tool: tool, ExitCode: res.ExitCode, Detail: detail}
}

// runCommand spawns one toolchain subprocess in its own process group and
// races it against the phase timer. On expiry the whole group gets SIGTERM,
// a grace period, then SIGKILL, and context.DeadlineExceeded is returned.
// The timer is stopped on the normal path so a finished command can never
// be killed late.
func (e *Executor) runCommand(
	ctx context.Context,
	dir, phase, tool string,
	args []string,
	timeout time.Duration,
	logger *slog.Logger,
) (PhaseResult, error) {
	result := PhaseResult{Phase: phase, Tool: tool, Args: args, ExitCode: -1}

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext - we manage termination ourselves so the
	// whole process group dies, not just the direct child.
	cmd := exec.Command(tool, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning toolchain command", "phase", phase, "tool", tool, "args", args, "timeout", timeout)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(started)
		return result, fmt.Errorf("start %s: %w", tool, err)
	}
	pgid := cmd.Process.Pid

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("phase timed out, sending SIGTERM to process group", "phase", phase, "tool", tool)
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("process group exited after SIGTERM", "phase", phase)
		case <-grace.C:
			logger.Warn("process group did not exit after SIGTERM, sending SIGKILL", "phase", phase)
			if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr // Wait for process to die
		}

		result.Duration = time.Since(started)
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		return result, context.DeadlineExceeded

	case err := <-waitErr:
		result.Duration = time.Since(started)
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		result.ExitCode = 0

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
				logger.Warn("command exited with non-zero status",
					"phase", phase, "tool", tool, "exit_code", result.ExitCode,
					"stderr", truncateOutput(result.Stderr))
				return result, nil
			}
			return result, fmt.Errorf("wait for %s: %w", tool, err)
		}

		logger.Debug("command completed", "phase", phase, "tool", tool, "duration", result.Duration)
		return result, nil
	}
}

// truncateOutput caps command output for log fields.
func truncateOutput(s string) string {
	if len(s) > maxLoggedOutputBytes {
		return s[:maxLoggedOutputBytes]
	}
	return s
}
