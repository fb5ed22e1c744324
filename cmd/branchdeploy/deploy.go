package main

import (
	"github.com/spf13/cobra"

	"github.com/sloanahrens/branchdeploy/internal/shell/pipeline"
)

func newDeployCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build, push, and deploy the branch as an isolated service",
		Long: `deploy runs the full pipeline: validate the environment, exchange the CI
OIDC token for cloud credentials, read the shared infrastructure outputs,
build and push the container image (reusing the previous image's layers when
possible), apply the branch's Pulumi stack, verify the service answers, and
write the URL to ` + pipeline.DefaultResultPath + `.

There is no rollback: a failure after the image push leaves the pushed image
and any partially applied stack in place. Re-running deploy is the recovery
path.`,
	}

	req := requestFlags(cmd)
	flags := cmd.Flags()
	flags.StringVar(&req.Context, "context", "", "docker build context directory (default .)")
	flags.StringVar(&req.Dockerfile, "dockerfile", "", "Dockerfile path when not <context>/Dockerfile")
	flags.StringVar(&req.Memory, "memory", "", "memory per instance (default by cloud: 512Mi / 1.0Gi)")
	flags.StringVar(&req.CPU, "cpu", "", "cpu per instance (default by cloud: 1 / 0.5)")
	flags.IntVar(&req.MinInstances, "min-instances", -1, "minimum instance count (default 0)")
	flags.IntVar(&req.MaxInstances, "max-instances", 0, "maximum instance count (default 2)")
	flags.IntVar(&req.Port, "port", 0, "container port the service listens on (default 8080)")
	flags.BoolVar(&req.Private, "private", false, "require authentication for ingress")
	flags.StringVar(&req.RuntimeServiceAccount, "runtime-sa", "", "service account the workload runs as (gcp only)")
	flags.StringVar(&req.CustomDomain, "custom-domain", "", "custom domain to map to the service")
	flags.StringSliceVar(&req.BuildArgEnvKeys, "build-args-from-env", nil, "env var names forwarded to docker build as --build-arg")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		vars, cloud, logger, err := runSetup(opts)
		if err != nil {
			return err
		}
		req.Cloud = cloud

		p := pipeline.New(pipeline.Config{
			Vars:     vars,
			Logger:   logger,
			Out:      cmd.OutOrStdout(),
			InfraDir: opts.infraDir,
		})
		if _, err := p.Deploy(cmd.Context(), *req); err != nil {
			return &runError{err: err}
		}
		return nil
	}

	return cmd
}
