package main

import (
	"github.com/spf13/cobra"

	"github.com/sloanahrens/branchdeploy/internal/shell/pipeline"
)

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Destroy the branch's deployed service and its stack",
		Long: `cleanup destroys the Pulumi stack deploy created for this (app, branch)
pair and removes it from the state backend. A branch that was never deployed
(or was already cleaned up) is reported and treated as success, so cleanup is
safe to run unconditionally when a branch closes.`,
	}

	req := requestFlags(cmd)

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
		if _, err := p.Cleanup(cmd.Context(), *req); err != nil {
			return &runError{err: err}
		}
		return nil
	}

	return cmd
}
