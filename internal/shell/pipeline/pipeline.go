// Package pipeline sequences one deploy or cleanup run end to end. It is a
// linear state machine: each step runs once, in order, and the first failure
// aborts the run. There is deliberately no rollback; after the image is
// pushed, partial effects (a pushed image, a half-applied stack) are left in
// place for the operator, because re-running the pipeline is the recovery
// path and is idempotent.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/core/environ"
	"github.com/sloanahrens/branchdeploy/internal/core/naming"
	"github.com/sloanahrens/branchdeploy/internal/shell/docker"
	"github.com/sloanahrens/branchdeploy/internal/shell/health"
	"github.com/sloanahrens/branchdeploy/internal/shell/identity"
	"github.com/sloanahrens/branchdeploy/internal/shell/pulumi"
	"github.com/sloanahrens/branchdeploy/internal/shell/run"
)

// Shared-stack output keys, the contract with the shared Pulumi program.
const (
	outRegistryURL   = "registryUrl"
	outProjectID     = "projectId"
	outRegion        = "region"
	outResourceGroup = "resourceGroupName"
	outEnvironmentID = "environmentId"
)

// App-stack output keys.
const (
	outURL         = "url"
	outServiceName = "serviceName"
)

// DefaultResultPath is where the deployed URL is persisted for later CI
// steps.
const DefaultResultPath = "deploy-url.txt"

// =============================================================================
// Pipeline
// =============================================================================

// Config wires a pipeline. Only Vars is mandatory; every nil dependency gets
// its production implementation, so tests can swap exactly the seams they
// need.
type Config struct {
	// Vars is the environment snapshot the run validates and reads from.
	Vars map[string]string

	Runner run.Runner
	Broker identity.Broker
	Health *health.Verifier

	// Out receives the "==> step" narration; defaults to stdout.
	Out    io.Writer
	Logger *slog.Logger

	// InfraDir is the root of the Pulumi programs, laid out as
	// <InfraDir>/<cloud>/{shared,app}. Defaults to "infra".
	InfraDir string

	// ResultPath is where Deploy writes the service URL.
	ResultPath string
}

// Pipeline runs deploys and cleanups.
type Pipeline struct {
	vars       map[string]string
	runner     run.Runner
	broker     identity.Broker
	verifier   *health.Verifier
	out        io.Writer
	logger     *slog.Logger
	infraDir   string
	resultPath string
	runID      string
}

// New creates a pipeline for one invocation.
func New(cfg Config) *Pipeline {
	runID := uuid.NewString()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline", "run_id", runID)

	runner := cfg.Runner
	if runner == nil {
		runner = run.NewExecRunner(logger)
	}
	verifier := cfg.Health
	if verifier == nil {
		verifier = health.NewVerifier(health.DefaultConfig(), nil, logger)
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	infraDir := cfg.InfraDir
	if infraDir == "" {
		infraDir = "infra"
	}
	resultPath := cfg.ResultPath
	if resultPath == "" {
		resultPath = DefaultResultPath
	}

	return &Pipeline{
		vars:       cfg.Vars,
		runner:     runner,
		broker:     cfg.Broker,
		verifier:   verifier,
		out:        out,
		logger:     logger,
		infraDir:   infraDir,
		resultPath: resultPath,
		runID:      runID,
	}
}

// names holds everything derived from (app, branch, cloud) once per run.
type names struct {
	serviceName string
	stack       string
	sharedStack string
	appDir      string
	sharedDir   string
}

func (p *Pipeline) derive(req domain.DeploymentRequest, env *environ.Environment, target domain.Target) names {
	serviceName := naming.ServiceName(req.App, req.Branch, target.NameLimit)
	return names{
		serviceName: serviceName,
		stack:       naming.StackName(env.Org, serviceName),
		sharedStack: naming.SharedStackName(env.Org, string(req.Cloud)),
		appDir:      filepath.Join(p.infraDir, string(req.Cloud), "app"),
		sharedDir:   filepath.Join(p.infraDir, string(req.Cloud), "shared"),
	}
}

// step prints one narration line and returns a closure that records the
// step's duration in the structured log.
func (p *Pipeline) step(name string) func() {
	fmt.Fprintf(p.out, "==> %s\n", name)
	start := time.Now()
	return func() {
		p.logger.Info("step finished",
			"step", name,
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
	}
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy runs the full sequence: validate, normalize, authenticate, read
// shared outputs, registry login, cache pull, build, push, apply the app
// stack, verify health, persist the URL.
func (p *Pipeline) Deploy(ctx context.Context, req domain.DeploymentRequest) (domain.DeployResult, error) {
	start := time.Now()
	var result domain.DeployResult

	target := domain.TargetFor(req.Cloud)
	req = req.WithDefaults(target)
	if err := req.Validate(); err != nil {
		return result, err
	}

	env, err := p.validate(req.Cloud)
	if err != nil {
		return result, err
	}

	nm := p.derive(req, env, target)
	fmt.Fprintf(p.out, "Deploying %s (branch %s) to %s\n", nm.serviceName, req.Branch, req.Cloud.DisplayName())
	p.logger.Info("deploy starting",
		"app", req.App,
		"branch", req.Branch,
		"cloud", req.Cloud,
		"service", nm.serviceName,
		"stack", nm.stack,
	)

	cred, err := p.authenticate(ctx, req.Cloud, env)
	if err != nil {
		return result, err
	}

	orch := pulumi.NewOrchestrator(p.runner, pulumi.Session{
		BackendURL: env.StateBackendURL(),
		Passphrase: env.Passphrase,
		Credential: cred,
	}, p.logger)

	if err := orch.Login(ctx); err != nil {
		return result, err
	}

	outputs, err := p.sharedOutputs(ctx, orch, req.Cloud, nm)
	if err != nil {
		return result, err
	}

	imageRef := naming.ImageRef(outputs.RegistryURL, req.App, req.Branch, target.NameLimit)
	if err := docker.ValidateRef(imageRef); err != nil {
		return result, err
	}

	if err := p.buildAndPush(ctx, req, cred, outputs.RegistryURL, imageRef); err != nil {
		return result, err
	}

	result, err = p.applyAppStack(ctx, orch, req, env, outputs, nm, imageRef)
	if err != nil {
		return result, err
	}

	if err := p.verify(ctx, result.URL); err != nil {
		return result, err
	}

	if err := p.persist(result.URL); err != nil {
		return result, err
	}

	fmt.Fprintf(p.out, "\nDeployed %s at %s\n", result.ServiceName, result.URL)
	p.logger.Info("deploy finished",
		"service", result.ServiceName,
		"url", result.URL,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return result, nil
}

func (p *Pipeline) validate(cloud domain.Cloud) (*environ.Environment, error) {
	defer p.step(fmt.Sprintf("Validating environment (%s)", cloud))()
	return environ.Validate(cloud, p.vars)
}

func (p *Pipeline) authenticate(ctx context.Context, cloud domain.Cloud, env *environ.Environment) (domain.Credential, error) {
	defer p.step("Exchanging CI credentials")()

	broker := p.broker
	if broker == nil {
		var err error
		broker, err = identity.BrokerFor(cloud, &http.Client{Timeout: 30 * time.Second}, p.logger)
		if err != nil {
			return domain.Credential{}, err
		}
	}
	return broker.Exchange(ctx, env)
}

func (p *Pipeline) sharedOutputs(ctx context.Context, orch *pulumi.Orchestrator, cloud domain.Cloud, nm names) (domain.InfraOutputs, error) {
	defer p.step("Reading shared infrastructure outputs")()

	var keys []string
	switch cloud {
	case domain.CloudGCP:
		keys = []string{outRegistryURL, outProjectID, outRegion}
	case domain.CloudAzure:
		keys = []string{outRegistryURL, outResourceGroup, outEnvironmentID}
	}

	values, err := orch.Outputs(ctx, nm.sharedDir, nm.sharedStack, keys...)
	if err != nil {
		return domain.InfraOutputs{}, fmt.Errorf("shared stack %s: %w", nm.sharedStack, err)
	}

	outputs := domain.InfraOutputs{
		RegistryURL:   values[outRegistryURL],
		ProjectID:     values[outProjectID],
		Region:        values[outRegion],
		ResourceGroup: values[outResourceGroup],
		EnvironmentID: values[outEnvironmentID],
	}
	if err := outputs.Validate(cloud); err != nil {
		return domain.InfraOutputs{}, err
	}
	return outputs, nil
}

func (p *Pipeline) buildAndPush(ctx context.Context, req domain.DeploymentRequest, cred domain.Credential, registryURL, imageRef string) error {
	images := docker.NewController(p.runner, p.logger)

	finish := p.step("Logging in to container registry")
	if err := images.Login(ctx, cred, registryURL); err != nil {
		return err
	}
	finish()

	finish = p.step("Pulling previous image for layer cache")
	cacheFrom := ""
	if images.Pull(ctx, imageRef) {
		cacheFrom = imageRef
	}
	finish()

	finish = p.step(fmt.Sprintf("Building %s", imageRef))
	err := images.Build(ctx, docker.BuildSpec{
		Ref:        imageRef,
		Context:    req.Context,
		Dockerfile: req.Dockerfile,
		CacheFrom:  cacheFrom,
		BuildArgs:  p.buildArgs(req.BuildArgEnvKeys),
	})
	if err != nil {
		return err
	}
	finish()

	finish = p.step("Pushing image")
	if err := images.Push(ctx, imageRef); err != nil {
		return err
	}
	finish()
	return nil
}

// buildArgs resolves the allow-listed env keys against the snapshot. Unset
// and empty keys are dropped here (value "") and skipped by the builder.
func (p *Pipeline) buildArgs(keys []string) map[string]string {
	if len(keys) == 0 {
		return nil
	}
	args := make(map[string]string, len(keys))
	for _, k := range keys {
		args[k] = p.vars[k]
	}
	return args
}

func (p *Pipeline) applyAppStack(
	ctx context.Context,
	orch *pulumi.Orchestrator,
	req domain.DeploymentRequest,
	env *environ.Environment,
	outputs domain.InfraOutputs,
	nm names,
	imageRef string,
) (domain.DeployResult, error) {
	defer p.step(fmt.Sprintf("Deploying stack %s", nm.stack))()

	if err := orch.Install(ctx, nm.appDir); err != nil {
		return domain.DeployResult{}, err
	}

	cfg := appConfig(req, env, outputs, nm.serviceName, imageRef)
	if err := orch.Apply(ctx, nm.appDir, nm.stack, cfg); err != nil {
		return domain.DeployResult{}, err
	}

	values, err := orch.Outputs(ctx, nm.appDir, nm.stack, outURL, outServiceName)
	if err != nil {
		return domain.DeployResult{}, fmt.Errorf("app stack %s: %w", nm.stack, err)
	}
	result := domain.DeployResult{URL: values[outURL], ServiceName: values[outServiceName]}
	if result.URL == "" {
		return result, fmt.Errorf("app stack %s exported no url", nm.stack)
	}
	return result, nil
}

func (p *Pipeline) verify(ctx context.Context, url string) error {
	defer p.step(fmt.Sprintf("Verifying %s answers", url))()
	return p.verifier.Check(ctx, url)
}

func (p *Pipeline) persist(url string) error {
	defer p.step(fmt.Sprintf("Writing %s", p.resultPath))()
	if err := os.WriteFile(p.resultPath, []byte(url), 0o644); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}
	return nil
}

// =============================================================================
// Cleanup
// =============================================================================

// Cleanup destroys the branch's app stack. A stack that was never deployed
// (or is already gone) is success, reported via the returned flag.
func (p *Pipeline) Cleanup(ctx context.Context, req domain.DeploymentRequest) (bool, error) {
	target := domain.TargetFor(req.Cloud)
	req = req.WithDefaults(target)
	if err := req.Validate(); err != nil {
		return false, err
	}

	env, err := p.validate(req.Cloud)
	if err != nil {
		return false, err
	}

	nm := p.derive(req, env, target)
	fmt.Fprintf(p.out, "Cleaning up %s (branch %s) on %s\n", nm.serviceName, req.Branch, req.Cloud.DisplayName())

	cred, err := p.authenticate(ctx, req.Cloud, env)
	if err != nil {
		return false, err
	}

	orch := pulumi.NewOrchestrator(p.runner, pulumi.Session{
		BackendURL: env.StateBackendURL(),
		Passphrase: env.Passphrase,
		Credential: cred,
	}, p.logger)

	if err := orch.Login(ctx); err != nil {
		return false, err
	}

	defer p.step(fmt.Sprintf("Destroying stack %s", nm.stack))()
	destroyed, err := orch.Destroy(ctx, nm.appDir, nm.stack, destroyConfig(req.Cloud, env))
	if err != nil {
		return false, err
	}

	if destroyed {
		fmt.Fprintf(p.out, "\nDestroyed %s\n", nm.stack)
		p.logger.Info("cleanup finished", "stack", nm.stack, "destroyed", true)
	} else {
		fmt.Fprintf(p.out, "\nNothing to destroy for %s\n", nm.stack)
		p.logger.Info("cleanup finished", "stack", nm.stack, "destroyed", false)
	}
	return destroyed, nil
}

// =============================================================================
// Stack Configuration
// =============================================================================

// appConfig assembles the per-branch stack configuration in the order the
// app programs expect: provider config first, then app config.
func appConfig(
	req domain.DeploymentRequest,
	env *environ.Environment,
	outputs domain.InfraOutputs,
	serviceName, imageRef string,
) []pulumi.ConfigKV {
	var cfg []pulumi.ConfigKV

	switch req.Cloud {
	case domain.CloudGCP:
		cfg = append(cfg,
			pulumi.ConfigKV{Key: "gcp:project", Value: outputs.ProjectID},
			pulumi.ConfigKV{Key: "gcp:region", Value: outputs.Region},
		)
	case domain.CloudAzure:
		cfg = append(cfg,
			pulumi.ConfigKV{Key: "azure-native:subscriptionId", Value: env.Azure.SubscriptionID},
			pulumi.ConfigKV{Key: "azure-native:tenantId", Value: env.Azure.TenantID},
			pulumi.ConfigKV{Key: "azure-native:clientId", Value: env.Azure.ClientID},
			pulumi.ConfigKV{Key: "azure-native:location", Value: env.Azure.Location},
			pulumi.ConfigKV{Key: "app:resourceGroup", Value: outputs.ResourceGroup},
			pulumi.ConfigKV{Key: "app:environmentId", Value: outputs.EnvironmentID},
		)
	}

	cfg = append(cfg,
		pulumi.ConfigKV{Key: "app:image", Value: imageRef},
		pulumi.ConfigKV{Key: "app:serviceName", Value: serviceName},
		pulumi.ConfigKV{Key: "app:memory", Value: req.Memory},
		pulumi.ConfigKV{Key: "app:cpu", Value: req.CPU},
		pulumi.ConfigKV{Key: "app:minInstances", Value: strconv.Itoa(req.MinInstances)},
		pulumi.ConfigKV{Key: "app:maxInstances", Value: strconv.Itoa(req.MaxInstances)},
		pulumi.ConfigKV{Key: "app:containerPort", Value: strconv.Itoa(req.Port)},
		pulumi.ConfigKV{Key: "app:public", Value: strconv.FormatBool(!req.Private)},
	)

	if req.Cloud == domain.CloudGCP && req.RuntimeServiceAccount != "" {
		cfg = append(cfg, pulumi.ConfigKV{Key: "app:runtimeServiceAccount", Value: req.RuntimeServiceAccount})
	}
	if req.CustomDomain != "" {
		cfg = append(cfg, pulumi.ConfigKV{Key: "app:customDomain", Value: req.CustomDomain})
	}
	return cfg
}

// destroyConfig is the minimal config a destroy needs. The azure-native
// provider refuses to plan a destroy without its identity config; the gcp
// provider reads everything from the stored state.
func destroyConfig(cloud domain.Cloud, env *environ.Environment) []pulumi.ConfigKV {
	if cloud != domain.CloudAzure {
		return nil
	}
	return []pulumi.ConfigKV{
		{Key: "azure-native:subscriptionId", Value: env.Azure.SubscriptionID},
		{Key: "azure-native:tenantId", Value: env.Azure.TenantID},
		{Key: "azure-native:clientId", Value: env.Azure.ClientID},
		{Key: "azure-native:location", Value: env.Azure.Location},
	}
}
