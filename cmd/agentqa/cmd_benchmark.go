package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/F8ai/formul8-platform-sub006/benchmark"
)

func newBenchmarkCommand(a *app) *cobra.Command {
	var (
		req      benchmark.Request
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "benchmark <agent>",
		Short: "Benchmark an agent against its question bank",
		Long: `Run every baseline question of an agent against one or more models,
grade each answer with the judge model and update the agent's baseline.

Interrupting the command cancels the run; answers graded so far are kept.`,
		Example: `  agentqa benchmark compliance --models gpt-4o,claude-3-5-sonnet --limit 10
  agentqa benchmark science --mode kb --state Colorado`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(context.WithoutCancel(ctx)) }()

			req.AgentType = args[0]
			progress, err := a.followRun(ctx, rt, req, interval)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				if err := printJSON(a.out, progress); err != nil {
					return err
				}
			} else {
				printSummary(a.out, progress)
			}
			if progress.State == benchmark.StateFailed {
				return &RunFailedError{RunID: progress.RunID, Message: progress.Error}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&req.Models, "models", nil, "Models to test (default: the mode's model)")
	cmd.Flags().StringVarP(&req.Mode, "mode", "m", "", "Execution mode (default prompt)")
	cmd.Flags().IntVar(&req.QuestionLimit, "limit", 0, "Only run the first N questions")
	cmd.Flags().StringVar(&req.StateFilter, "state", "", "State substituted into {{state}} placeholders")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Progress refresh interval")
	return cmd
}

// followRun starts a run and prints progress until it finishes. When ctx
// is cancelled the run is cancelled and followed to its end.
func (a *app) followRun(ctx context.Context, rt *runtime, req benchmark.Request, interval time.Duration) (benchmark.Progress, error) {
	bg := context.WithoutCancel(ctx)
	runID := rt.engine.RunBenchmark(bg, req)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	lastCompleted := -1
	for {
		progress, err := rt.engine.GetProgress(runID)
		if err != nil {
			return benchmark.Progress{}, err
		}
		if progress.State.Terminal() {
			return progress, nil
		}
		if !a.jsonOutput && progress.Completed != lastCompleted {
			lastCompleted = progress.Completed
			printProgressLine(a.errOut, progress)
		}

		select {
		case <-ticker.C:
		case <-done:
			warnColor.Fprintln(a.errOut, "cancelling run...")
			if err := rt.engine.CancelBenchmark(bg, runID); err != nil {
				return benchmark.Progress{}, err
			}
			done = nil
		}
	}
}
