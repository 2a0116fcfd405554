package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/F8ai/formul8-platform-sub006/config"
	"github.com/F8ai/formul8-platform-sub006/engine"
	"github.com/F8ai/formul8-platform-sub006/observability"
)

var version = "dev"

// app carries what every subcommand shares once the root has run.
type app struct {
	configPath string
	logLevel   string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "agentqa",
		Short: "Quality assurance for domain expert agents",
		Long: `agentqa runs the platform's domain expert agents under different
execution modes, benchmarks them against baseline question banks, grades
the answers with a judge model and cross-checks agents against each other.

Configuration is read from --config, ./agentqa.yaml or ~/.agentqa/agentqa.yaml
and may be overridden with AGENTQA_* environment variables.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Logging.Level = a.logLevel
			}
			level, err := observability.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = observability.ConfigureLogging(level, cfg.Logging.Structured, cfg.Logging.TraceContext)
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newQueryCommand(a))
	cmd.AddCommand(newBenchmarkCommand(a))
	cmd.AddCommand(newVerifyCommand(a))
	cmd.AddCommand(newCoverageCommand(a))
	cmd.AddCommand(newModesCommand(a))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

// runtime is an engine plus the telemetry that was started for it.
type runtime struct {
	engine  *engine.Engine
	metrics *observability.MetricsExport
	closers []func(context.Context) error
}

// close shuts everything down in reverse order of creation.
func (r *runtime) close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// start builds the engine together with tracing, metrics and the audit
// trail as configured. Extra options are applied last.
func (a *app) start(ctx context.Context, opts ...engine.Option) (*runtime, error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		_ = rt.close(ctx)
		return nil, err
	}

	tel := a.cfg.Telemetry
	if tel.OTLPEndpoint != "" || tel.Console {
		tp, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:  tel.ServiceName,
			OTLPEndpoint: tel.OTLPEndpoint,
			Insecure:     tel.Insecure,
			Console:      tel.Console,
			SampleRatio:  tel.SampleRatio,
		})
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, tp.Shutdown)
	}

	engineOpts := []engine.Option{engine.WithLogger(a.logger)}
	if tel.Metrics {
		export, err := observability.InitMetrics(ctx, tel.ServiceName)
		if err != nil {
			return fail(err)
		}
		rt.metrics = export
		rt.closers = append(rt.closers, export.Shutdown)

		em, err := observability.NewEngineMetrics()
		if err != nil {
			return fail(err)
		}
		engineOpts = append(engineOpts, engine.WithMetrics(em))
	}

	sinks := []observability.AuditSink{}
	if a.cfg.Logging.AuditFile != "" {
		sink, closer, err := observability.OpenAuditFile(a.cfg.Logging.AuditFile)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
		rt.closers = append(rt.closers, func(context.Context) error { return closer.Close() })
	}
	if !a.jsonOutput {
		sinks = append(sinks, observability.NewConsoleAuditSink(a.errOut))
	}
	engineOpts = append(engineOpts, engine.WithAudit(observability.NewAuditLogger(sinks...)))

	eng, err := engine.New(ctx, a.cfg, append(engineOpts, opts...)...)
	if err != nil {
		return fail(fmt.Errorf("failed to build engine: %w", err))
	}
	rt.engine = eng
	rt.closers = append(rt.closers, eng.Close)
	return rt, nil
}
