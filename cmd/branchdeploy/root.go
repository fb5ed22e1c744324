package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/core/environ"
)

// rootOptions are the persistent flags shared by deploy and cleanup.
type rootOptions struct {
	cloud    string
	infraDir string
	org      string
	envFile  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "branchdeploy",
		Short: "Per-branch deployments to Cloud Run and Azure Container Apps",
		Long: `branchdeploy builds, pushes, and deploys one branch of one application as an
isolated service, and tears it down again when the branch is done. It is
designed to run inside a Bitbucket Pipelines step with OIDC enabled, against
Pulumi-managed infrastructure.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cloud, "cloud", "", "target cloud (gcp|azure); detected from the environment when omitted")
	pf.StringVar(&opts.infraDir, "infra-dir", "infra", "root of the Pulumi programs (<infra-dir>/<cloud>/{shared,app})")
	pf.StringVar(&opts.org, "org", "", "Pulumi organization segment of stack names (default from PULUMI_ORG)")
	pf.StringVar(&opts.envFile, "env-file", "", "YAML file of fallback environment values for local runs")

	cmd.AddCommand(newDeployCmd(opts))
	cmd.AddCommand(newCleanupCmd(opts))
	return cmd
}

// runSetup loads the environment snapshot, resolves the target cloud, and
// builds the logger. Shared verbatim by both subcommands.
func runSetup(opts *rootOptions) (map[string]string, domain.Cloud, *slog.Logger, error) {
	vars, err := LoadEnvironment(opts.envFile)
	if err != nil {
		return nil, "", nil, err
	}
	if opts.org != "" {
		vars[environ.KeyPulumiOrg] = opts.org
	}

	var cloud domain.Cloud
	if opts.cloud != "" {
		cloud, err = domain.ParseCloud(opts.cloud)
	} else {
		cloud, err = environ.DetectCloud(vars)
	}
	if err != nil {
		return nil, "", nil, err
	}

	logger := SetupLogger(LoadLogConfig())
	return vars, cloud, logger, nil
}

// requestFlags registers the flags shared by deploy and cleanup and returns
// the bound request. Resource fields stay at their "unset" sentinels so the
// target capability set fills them later.
func requestFlags(cmd *cobra.Command) *domain.DeploymentRequest {
	req := &domain.DeploymentRequest{MinInstances: -1}
	cmd.Flags().StringVar(&req.App, "app", "", "application name (lowercase, letters/digits/hyphens)")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "branch being deployed, exactly as the VCS reports it")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("branch")
	return req
}

