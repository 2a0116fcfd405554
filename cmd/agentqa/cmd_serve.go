package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/F8ai/formul8-platform-sub006/server"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the engine over HTTP.

Routes:
  GET    /healthz
  GET    /metrics                                (when telemetry.metrics is set)
  GET    /v1/agents
  POST   /v1/agents/:type/query
  POST   /v1/agents/:type/coverage
  GET    /v1/agents/:type/modes[/:mode]
  PATCH  /v1/agents/:type/modes/:mode
  GET    /v1/agents/:type/modes/:mode/baseline
  POST   /v1/benchmarks
  GET    /v1/benchmarks[/:id]
  DELETE /v1/benchmarks/:id
  GET    /v1/benchmarks/:id/results/:model
  GET    /v1/benchmarks/:id/stream               (websocket)
  POST   /v1/verify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(cmd.Context()) }()

			serverCfg := a.cfg.Server
			if addr != "" {
				serverCfg.Addr = addr
			}
			opts := []server.Option{server.WithLogger(a.logger.With("component", "server"))}
			if rt.metrics != nil {
				opts = append(opts, server.WithMetricsHandler(rt.metrics.Handler()))
			}
			return server.New(rt.engine, serverCfg, opts...).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
