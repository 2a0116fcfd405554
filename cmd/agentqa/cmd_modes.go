package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

func newModesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modes [agent]",
		Short: "List the execution modes configured for agents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(ctx) }()

			agentTypes := rt.engine.Agents()
			if len(args) == 1 {
				agentTypes = args
			}
			all := make(map[string][]agentqa.ModeConfig, len(agentTypes))
			for _, agentType := range agentTypes {
				modes, err := rt.engine.Modes(agentType)
				if err != nil {
					return err
				}
				all[agentType] = modes
			}

			if a.jsonOutput {
				return printJSON(a.out, all)
			}
			for _, agentType := range agentTypes {
				printModes(a.out, agentType, all[agentType])
			}
			return nil
		},
	}

	cmd.AddCommand(newBaselineCommand(a))
	return cmd
}

func newBaselineCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "baseline <agent> <mode>",
		Short: "Show the recorded baseline performance of an agent mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(ctx) }()

			baseline, err := rt.engine.Baseline(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if baseline == nil {
				return fmt.Errorf("no baseline recorded for %s/%s", args[0], args[1])
			}
			return printJSON(a.out, baseline)
		},
	}
}
