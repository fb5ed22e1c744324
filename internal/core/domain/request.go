package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// =============================================================================
// Request Errors
// =============================================================================

var (
	ErrAppNameRequired = errors.New("app name is required")
	ErrAppNameInvalid  = errors.New("app name must start with a letter and contain only lowercase letters, digits, and hyphens")
	ErrAppNameTooLong  = errors.New("app name must be at most 30 characters")
	ErrBranchRequired  = errors.New("branch name is required")
	ErrContextRequired = errors.New("build context directory is required")
)

var appNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// =============================================================================
// Deployment Request
// =============================================================================

// DeploymentRequest describes one deploy or cleanup invocation. It is built
// once from the command line, defaulted from the target capability set, and
// never mutated afterwards.
type DeploymentRequest struct {
	Cloud  Cloud
	App    string
	Branch string

	// Context is the docker build context directory.
	Context string

	// Dockerfile optionally overrides the context's default Dockerfile.
	Dockerfile string

	// Resource overrides; zero values mean "use the target default".
	Memory       string
	CPU          string
	MinInstances int
	MaxInstances int
	Port         int

	// Private withholds unauthenticated ingress from the deployed service.
	Private bool

	// RuntimeServiceAccount is the identity the deployed service runs as
	// (GCP only; ignored for Azure).
	RuntimeServiceAccount string

	// CustomDomain optionally maps a fully qualified domain to the service.
	CustomDomain string

	// BuildArgEnvKeys names environment variables forwarded to the image
	// build as --build-arg, an explicit allow-list.
	BuildArgEnvKeys []string
}

// WithDefaults returns a copy of the request with unset resource fields
// filled from the target capability set.
func (r DeploymentRequest) WithDefaults(t Target) DeploymentRequest {
	if r.Memory == "" {
		r.Memory = t.DefaultMemory
	}
	if r.CPU == "" {
		r.CPU = t.DefaultCPU
	}
	if r.MinInstances < 0 {
		r.MinInstances = t.DefaultMinInstances
	}
	if r.MaxInstances <= 0 {
		r.MaxInstances = t.DefaultMaxInstances
	}
	if r.Port <= 0 {
		r.Port = t.DefaultPort
	}
	if r.Context == "" {
		r.Context = "."
	}
	return r
}

// Validate checks the request after defaults have been applied.
func (r DeploymentRequest) Validate() error {
	if err := ValidateAppName(r.App); err != nil {
		return err
	}
	if r.Branch == "" {
		return ErrBranchRequired
	}
	if r.Context == "" {
		return ErrContextRequired
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port %d is out of range 1-65535", r.Port)
	}
	if r.MinInstances < 0 {
		return fmt.Errorf("min instances %d must not be negative", r.MinInstances)
	}
	if r.MaxInstances < 1 {
		return fmt.Errorf("max instances %d must be at least 1", r.MaxInstances)
	}
	if r.MinInstances > r.MaxInstances {
		return fmt.Errorf("min instances %d exceeds max instances %d", r.MinInstances, r.MaxInstances)
	}
	return nil
}

// ValidateAppName checks that a name is safe to embed in service, stack, and
// image names on both clouds.
func ValidateAppName(name string) error {
	if name == "" {
		return ErrAppNameRequired
	}
	if len(name) > 30 {
		return ErrAppNameTooLong
	}
	if !appNamePattern.MatchString(name) {
		return ErrAppNameInvalid
	}
	return nil
}
