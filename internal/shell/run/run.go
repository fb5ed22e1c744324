// Package run executes external commands. It is the single seam between the
// pipeline and the docker / pulumi / az binaries, so everything above it can
// be tested with a fake Runner.
package run

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Spec describes one external command invocation.
type Spec struct {
	// Name is the binary to execute, resolved via PATH.
	Name string

	// Args are the command arguments, excluding the binary name.
	Args []string

	// Dir is the working directory; empty means inherit the caller's.
	Dir string

	// Env holds extra KEY=VALUE assignments appended to the inherited
	// process environment. Credentials and passphrases travel here, never
	// through the ambient environment.
	Env []string

	// Stdin, when non-empty, is fed to the child's standard input. Used for
	// registry passwords so tokens never appear in argument lists.
	Stdin string
}

func (s Spec) String() string {
	return s.Name + " " + strings.Join(s.Args, " ")
}

// Runner executes commands. Run streams both output channels; Output captures
// stdout for the caller while stderr keeps streaming.
type Runner interface {
	Run(ctx context.Context, spec Spec) error
	Output(ctx context.Context, spec Spec) (string, error)
}

// =============================================================================
// Exec Implementation
// =============================================================================

// ExecRunner runs commands through os/exec with the child's output attached
// to the configured writers, so build and provisioning logs land in the CI
// log exactly as the underlying tools emit them.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	logger *slog.Logger
}

// NewExecRunner creates a runner writing child output to this process's
// stdout and stderr.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger.With("component", "run"),
	}
}

// Run executes the command, streaming stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) error {
	cmd := r.command(ctx, spec)
	cmd.Stdout = r.Stdout

	start := time.Now()
	err := cmd.Run()
	r.observe(spec, start, err)
	if err != nil {
		return fmt.Errorf("%s: %w", spec, err)
	}
	return nil
}

// Output executes the command capturing stdout; stderr still streams so
// operators see tool diagnostics in real time. Trailing whitespace is
// trimmed, matching how single-value CLI outputs are consumed.
func (r *ExecRunner) Output(ctx context.Context, spec Spec) (string, error) {
	var stdout bytes.Buffer
	cmd := r.command(ctx, spec)
	cmd.Stdout = &stdout

	start := time.Now()
	err := cmd.Run()
	r.observe(spec, start, err)
	if err != nil {
		return "", fmt.Errorf("%s: %w", spec, err)
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

func (r *ExecRunner) command(ctx context.Context, spec Spec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stderr = r.Stderr
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	return cmd
}

func (r *ExecRunner) observe(spec Spec, start time.Time, err error) {
	attrs := []any{
		"cmd", spec.Name,
		"args", spec.Args,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	}
	if spec.Dir != "" {
		attrs = append(attrs, "dir", spec.Dir)
	}
	if err != nil {
		r.logger.Debug("command failed", append(attrs, "error", err.Error())...)
		return
	}
	r.logger.Debug("command finished", attrs...)
}
