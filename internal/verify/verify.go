// Package verify runs external compile and lint tools against a materialized project.
// A failing tool is a normal outcome reported in Report; only an environment problem,
// such as a missing executable, is returned as an error.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/logging"
)

// TimeoutDiagnostic is the diagnostic reported when a step exceeds its timeout.
const TimeoutDiagnostic = "verification timed out"

// PhaseSetup marks a report that failed before any tool ran.
const PhaseSetup = "setup"

// ToolResult captures one tool invocation.
type ToolResult struct {
	Name     string
	Phase    string
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Passed reports whether the tool exited cleanly.
func (r ToolResult) Passed() bool { return r.ExitCode == 0 && !r.TimedOut }

// Output returns the diagnostic text of the tool: stderr when present, otherwise stdout.
func (r ToolResult) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Report is the verdict for one project directory.
type Report struct {
	Passed     bool
	Phase      string
	Results    []ToolResult
	Diagnostic string
}

// Runner executes the configured steps in order: every compile step, then, only if
// they all pass, every lint step.
type Runner struct {
	steps    []appconfig.VerificationStep
	required []string
	timeout  time.Duration
}

func NewRunner(cfg appconfig.VerificationConfig) *Runner {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Runner{steps: cfg.Steps, required: cfg.RequiredFiles, timeout: timeout}
}

// Verify runs the steps inside dir.
func (r *Runner) Verify(ctx context.Context, dir string) (Report, error) {
	if missing := r.missingFiles(dir); len(missing) > 0 {
		diag := "missing required file(s): " + strings.Join(missing, ", ")
		logging.LogEvent("[VERIFY] %s", diag)
		return Report{Phase: PhaseSetup, Diagnostic: diag}, nil
	}

	var report Report
	for _, step := range r.phaseSteps(appconfig.PhaseCompile) {
		res, err := r.run(ctx, dir, step)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, res)
		if !res.Passed() {
			report.Phase = appconfig.PhaseCompile
			report.Diagnostic = diagnostic(res)
			return report, nil
		}
	}

	var failures []string
	for _, step := range r.phaseSteps(appconfig.PhaseLint) {
		res, err := r.run(ctx, dir, step)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, res)
		if !res.Passed() {
			failures = append(failures, fmt.Sprintf("[%s]\n%s", res.Name, diagnostic(res)))
		}
	}
	if len(failures) > 0 {
		report.Phase = appconfig.PhaseLint
		report.Diagnostic = strings.Join(failures, "\n\n")
		return report, nil
	}

	report.Passed = true
	return report, nil
}

func (r *Runner) phaseSteps(phase string) []appconfig.VerificationStep {
	var out []appconfig.VerificationStep
	for _, s := range r.steps {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

func (r *Runner) missingFiles(dir string) []string {
	var missing []string
	for _, name := range r.required {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func (r *Runner) run(ctx context.Context, dir string, step appconfig.VerificationStep) (ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return ToolResult{}, err
	}
	res := ToolResult{Name: step.Name, Phase: step.Phase, Command: step.Command}
	if res.Name == "" {
		res.Name = step.Command[0]
	}

	stepCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, step.Command[0], step.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.LogEvent("[VERIFY] %s: %s (dir=%s)", res.Name, strings.Join(step.Command, " "), dir)
	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return res, fmt.Errorf("verification step %s: %w", res.Name, err)
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			res.ExitCode = -1
			logging.LogEvent("[VERIFY] %s timed out after %s", res.Name, r.timeout)
			return res, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("verification step %s: %w", res.Name, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	logging.LogEvent("[VERIFY] %s exit=%d in %s", res.Name, res.ExitCode, res.Duration.Round(time.Millisecond))
	return res, nil
}

func diagnostic(res ToolResult) string {
	if res.TimedOut {
		return TimeoutDiagnostic
	}
	if out := res.Output(); out != "" {
		return out
	}
	return fmt.Sprintf("%s exited with status %d", res.Name, res.ExitCode)
}
