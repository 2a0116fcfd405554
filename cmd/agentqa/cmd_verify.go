package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

func newVerifyCommand(a *app) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:     "verify <agent> <verifying-agent> <question...>",
		Short:   "Answer with one agent and cross-check with another",
		Example: `  agentqa verify compliance science "Can edibles exceed 10mg THC per serving in California?"`,
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(ctx) }()

			question := strings.Join(args[2:], " ")
			primary, err := rt.engine.RunQuery(ctx, args[0], mode, question, nil)
			if err != nil {
				return err
			}
			result, err := rt.engine.Verify(ctx, primary, args[1], question)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return printJSON(a.out, struct {
					Primary      *agentqa.AgentResponse      `json:"primary"`
					Verification *agentqa.VerificationResult `json:"verification"`
				}{primary, result})
			}
			printResponse(a.out, primary)
			fmt.Fprintln(a.out)
			printVerification(a.out, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", agentqa.ModePrompt.String(), "Execution mode of the primary agent")
	return cmd
}
