package main

import (
	"github.com/spf13/cobra"
)

func newCoverageCommand(a *app) *cobra.Command {
	var capabilities []string

	cmd := &cobra.Command{
		Use:   "coverage <agent>",
		Short: "Analyze how well an agent's question bank covers its capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(ctx) }()

			analysis, err := rt.engine.AnalyzeCoverage(ctx, args[0], capabilities)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(a.out, analysis)
			}
			printCoverage(a.out, analysis)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&capabilities, "capabilities", nil, "Capability areas (default: the agent's configured list)")
	return cmd
}
