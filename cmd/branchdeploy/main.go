package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/core/environ"
	"github.com/sloanahrens/branchdeploy/internal/shell/identity"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes. CI pipelines branch on these to distinguish "fix your
// repository variables" from "the deploy itself broke".
const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitAuthError     = 2
	ExitPipelineError = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// runError marks failures from inside a started pipeline run, as opposed to
// flag and configuration errors raised before any work began.
type runError struct {
	err error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

// exitCode classifies an error into the exit code table. Configuration
// problems win over everything (they are also the cheapest to fix), then
// credential exchange failures, then anything that broke mid-pipeline.
func exitCode(err error) int {
	var (
		missing  *environ.MissingVariablesError
		schema   *environ.SchemaError
		exchange *identity.ExchangeError
		precheck *identity.ValidationError
		started  *runError
	)
	switch {
	case errors.As(err, &missing),
		errors.As(err, &schema),
		errors.Is(err, environ.ErrNoOIDCToken),
		errors.Is(err, domain.ErrInvalidCloud),
		errors.Is(err, domain.ErrCloudUndetectable),
		errors.Is(err, domain.ErrAppNameRequired),
		errors.Is(err, domain.ErrAppNameInvalid),
		errors.Is(err, domain.ErrAppNameTooLong),
		errors.Is(err, domain.ErrBranchRequired):
		return ExitConfigError
	case errors.As(err, &exchange), errors.As(err, &precheck):
		return ExitAuthError
	case errors.As(err, &started):
		return ExitPipelineError
	default:
		// Flag parsing and other pre-run failures.
		return ExitConfigError
	}
}
