// Package docker builds and publishes container images by shelling out to
// the docker CLI (and az for ACR logins), with the child's output streaming
// straight into the CI log.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/distribution/reference"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/shell/run"
)

// =============================================================================
// Controller
// =============================================================================

// Controller drives image build, cache pull, and push for one deployment.
type Controller struct {
	runner run.Runner
	logger *slog.Logger
}

// NewController creates a docker controller on top of a command runner.
func NewController(runner run.Runner, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		runner: runner,
		logger: logger.With("component", "docker"),
	}
}

// BuildSpec describes one image build.
type BuildSpec struct {
	// Ref is the full image reference to tag, registry included.
	Ref string

	// Context is the build context directory.
	Context string

	// Dockerfile optionally overrides the context's default Dockerfile.
	Dockerfile string

	// CacheFrom is the previously pushed image to reuse layers from; empty
	// when the cache pull found nothing.
	CacheFrom string

	// BuildArgs are forwarded as --build-arg KEY=VALUE in sorted key order.
	// Entries with empty values are skipped, mirroring how unset CI
	// variables simply do not exist.
	BuildArgs map[string]string
}

// ValidateRef rejects malformed image references before any registry or
// daemon sees them. Shared-stack outputs feed the registry part, so a broken
// output fails here with a parse error instead of deep inside a docker call.
func ValidateRef(ref string) error {
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return nil
}

// =============================================================================
// Registry Login
// =============================================================================

// Login authenticates image pushes for the credential's cloud. GCP registries
// take the OAuth token as a docker password over stdin; ACR logins delegate
// to the az CLI, which wires docker up itself.
func (c *Controller) Login(ctx context.Context, cred domain.Credential, registryURL string) error {
	host := registryHost(registryURL)
	target := domain.TargetFor(cred.Cloud)

	switch target.RegistryAuth {
	case domain.RegistryAuthToken:
		token := cred.Value(domain.EnvGoogleOAuthToken)
		if token == "" {
			return fmt.Errorf("credential for %s carries no registry token", cred.Cloud)
		}
		c.logger.Info("logging in to registry", "host", host)
		return c.runner.Run(ctx, run.Spec{
			Name:  "docker",
			Args:  []string{"login", "-u", "oauth2accesstoken", "--password-stdin", "https://" + host},
			Stdin: token,
		})

	case domain.RegistryAuthNative:
		name := acrName(host)
		c.logger.Info("logging in to registry via az", "host", host, "acr", name)
		return c.runner.Run(ctx, run.Spec{
			Name: "az",
			Args: []string{"acr", "login", "--name", name},
			Env:  cred.EnvStrings(),
		})

	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidCloud, string(cred.Cloud))
	}
}

// registryHost extracts the registry host from a registry URL or path prefix,
// e.g. "us-central1-docker.pkg.dev/proj/apps" -> "us-central1-docker.pkg.dev".
func registryHost(registryURL string) string {
	host := registryURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	return host
}

// acrName is the registry's first DNS label, which is how az addresses an
// Azure Container Registry ("myacr.azurecr.io" -> "myacr").
func acrName(host string) string {
	if i := strings.Index(host, "."); i >= 0 {
		return host[:i]
	}
	return host
}

// =============================================================================
// Build / Pull / Push
// =============================================================================

// Pull fetches ref so its layers can seed the build cache. A missing image is
// the normal first-deploy case, so failures only report "no cache", never an
// error.
func (c *Controller) Pull(ctx context.Context, ref string) bool {
	if err := c.runner.Run(ctx, run.Spec{Name: "docker", Args: []string{"pull", ref}}); err != nil {
		c.logger.Info("no cache image available", "ref", ref)
		return false
	}
	return true
}

// Build assembles the image for linux/amd64 with BuildKit inline caching, so
// the pushed image doubles as the cache source for the next run.
func (c *Controller) Build(ctx context.Context, spec BuildSpec) error {
	if err := ValidateRef(spec.Ref); err != nil {
		return err
	}

	args := []string{"build", "--platform", "linux/amd64", "--build-arg", "BUILDKIT_INLINE_CACHE=1"}
	if spec.CacheFrom != "" {
		args = append(args, "--cache-from", spec.CacheFrom)
	}
	if spec.Dockerfile != "" {
		args = append(args, "-f", spec.Dockerfile)
	}
	for _, kv := range sortedBuildArgs(spec.BuildArgs) {
		args = append(args, "--build-arg", kv)
	}
	args = append(args, "-t", spec.Ref, spec.Context)

	c.logger.Info("building image", "ref", spec.Ref, "context", spec.Context, "cached", spec.CacheFrom != "")
	return c.runner.Run(ctx, run.Spec{
		Name: "docker",
		Args: args,
		Env:  []string{"DOCKER_BUILDKIT=1"},
	})
}

// Push publishes the image.
func (c *Controller) Push(ctx context.Context, ref string) error {
	c.logger.Info("pushing image", "ref", ref)
	return c.runner.Run(ctx, run.Spec{Name: "docker", Args: []string{"push", ref}})
}

func sortedBuildArgs(args map[string]string) []string {
	out := make([]string, 0, len(args))
	for k, v := range args {
		if v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
