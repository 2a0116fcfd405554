package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

func newQueryCommand(a *app) *cobra.Command {
	var (
		mode  string
		extra map[string]string
	)

	cmd := &cobra.Command{
		Use:   "query <agent> <question...>",
		Short: "Ask one agent a question",
		Example: `  agentqa query compliance "What license does a distributor need in Oregon?"
  agentqa query science --mode rag "How does decarboxylation work?"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(ctx) }()

			var queryContext map[string]interface{}
			if len(extra) > 0 {
				queryContext = make(map[string]interface{}, len(extra))
				for k, v := range extra {
					queryContext[k] = v
				}
			}

			resp, err := rt.engine.RunQuery(ctx, args[0], mode, strings.Join(args[1:], " "), queryContext)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(a.out, resp)
			}
			printResponse(a.out, resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", agentqa.ModePrompt.String(), "Execution mode (raw, prompt, rag, kb, external)")
	cmd.Flags().StringToStringVar(&extra, "context", nil, "Extra context passed to the agent (key=value)")
	return cmd
}
