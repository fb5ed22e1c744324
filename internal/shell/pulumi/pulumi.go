// Package pulumi drives stack operations by wrapping the pulumi CLI. Every
// invocation carries the state passphrase and the short-lived cloud
// credential in its environment; nothing is written to the ambient process
// environment.
package pulumi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/shell/run"
)

// ConfigKV is one `pulumi config set` pair. Order is preserved because the
// app stack expects provider config before app config.
type ConfigKV struct {
	Key   string
	Value string
}

// Session is the per-run ambient state every pulumi invocation needs.
type Session struct {
	// BackendURL is the self-managed state backend (gs:// or azblob://).
	BackendURL string

	// Passphrase decrypts stack secrets in the self-managed backend.
	Passphrase string

	// Credential is the cloud credential injected into each invocation.
	Credential domain.Credential
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs pulumi commands for one deployment session.
type Orchestrator struct {
	runner  run.Runner
	session Session
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator bound to a session.
func NewOrchestrator(runner run.Runner, session Session, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		runner:  runner,
		session: session,
		logger:  logger.With("component", "pulumi"),
	}
}

// env renders the invocation environment: passphrase, update-check
// suppression, and the cloud credential.
func (o *Orchestrator) env() []string {
	env := []string{
		"PULUMI_CONFIG_PASSPHRASE=" + o.session.Passphrase,
		"PULUMI_SKIP_UPDATE_CHECK=true",
	}
	return append(env, o.session.Credential.EnvStrings()...)
}

func (o *Orchestrator) spec(dir string, args ...string) run.Spec {
	return run.Spec{Name: "pulumi", Args: args, Dir: dir, Env: o.env()}
}

// Login points the pulumi CLI at the session's state backend. Login state is
// global to the CLI, so this runs once per pipeline, not per workdir.
func (o *Orchestrator) Login(ctx context.Context) error {
	o.logger.Info("logging in to state backend", "backend", o.session.BackendURL)
	if err := o.runner.Run(ctx, o.spec("", "login", o.session.BackendURL)); err != nil {
		return fmt.Errorf("pulumi login: %w", err)
	}
	return nil
}

// Install restores the stack program's language dependencies in dir. Required
// before `up` on a fresh CI workspace.
func (o *Orchestrator) Install(ctx context.Context, dir string) error {
	if err := o.runner.Run(ctx, o.spec(dir, "install")); err != nil {
		return fmt.Errorf("pulumi install in %s: %w", dir, err)
	}
	return nil
}

// =============================================================================
// Stack Outputs
// =============================================================================

// Outputs reads the named stack outputs, one subprocess per key, in parallel.
// The reads are independent and read-only, so this is the pipeline's one
// fan-out. Values are whitespace-trimmed.
func (o *Orchestrator) Outputs(ctx context.Context, dir, stack string, keys ...string) (map[string]string, error) {
	var mu sync.Mutex
	out := make(map[string]string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			value, err := o.runner.Output(gctx, o.spec(dir, "stack", "output", key, "--stack", stack))
			if err != nil {
				return fmt.Errorf("read output %q from %s: %w", key, stack, err)
			}
			mu.Lock()
			out[key] = strings.TrimSpace(value)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Apply / Destroy
// =============================================================================

// Apply converges the stack: select it (creating it on first deploy), write
// the configuration in order, and run `up --yes`.
func (o *Orchestrator) Apply(ctx context.Context, dir, stack string, cfg []ConfigKV) error {
	if err := o.selectOrInit(ctx, dir, stack); err != nil {
		return err
	}
	if err := o.setConfig(ctx, dir, cfg); err != nil {
		return err
	}
	o.logger.Info("applying stack", "stack", stack)
	if err := o.runner.Run(ctx, o.spec(dir, "up", "--yes")); err != nil {
		return fmt.Errorf("pulumi up for %s: %w", stack, err)
	}
	return nil
}

// Destroy tears the stack down and removes it from the backend. A stack that
// cannot be selected was never created (or is already gone), which cleanup
// treats as success: the return reports whether anything was destroyed.
// Failures after selection are real errors; a half-destroyed stack must stay
// visible.
func (o *Orchestrator) Destroy(ctx context.Context, dir, stack string, extraCfg []ConfigKV) (bool, error) {
	if err := o.runner.Run(ctx, o.spec(dir, "stack", "select", stack)); err != nil {
		o.logger.Info("stack not found, nothing to destroy", "stack", stack)
		return false, nil
	}
	if err := o.setConfig(ctx, dir, extraCfg); err != nil {
		return false, err
	}
	o.logger.Info("destroying stack", "stack", stack)
	if err := o.runner.Run(ctx, o.spec(dir, "destroy", "--yes")); err != nil {
		return false, fmt.Errorf("pulumi destroy for %s: %w", stack, err)
	}
	if err := o.runner.Run(ctx, o.spec(dir, "stack", "rm", "--yes")); err != nil {
		return false, fmt.Errorf("pulumi stack rm for %s: %w", stack, err)
	}
	return true, nil
}

func (o *Orchestrator) selectOrInit(ctx context.Context, dir, stack string) error {
	if err := o.runner.Run(ctx, o.spec(dir, "stack", "select", stack)); err == nil {
		return nil
	}
	o.logger.Info("initializing new stack", "stack", stack)
	if err := o.runner.Run(ctx, o.spec(dir, "stack", "init", stack)); err != nil {
		return fmt.Errorf("pulumi stack init %s: %w", stack, err)
	}
	return nil
}

func (o *Orchestrator) setConfig(ctx context.Context, dir string, cfg []ConfigKV) error {
	for _, kv := range cfg {
		if err := o.runner.Run(ctx, o.spec(dir, "config", "set", kv.Key, kv.Value)); err != nil {
			return fmt.Errorf("pulumi config set %s: %w", kv.Key, err)
		}
	}
	return nil
}
