// Package server exposes the engine over HTTP with gin, streams benchmark
// progress over a websocket and serves Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/F8ai/formul8-platform-sub006/config"
	"github.com/F8ai/formul8-platform-sub006/engine"
	"github.com/F8ai/formul8-platform-sub006/observability"
)

// Server is the HTTP API.
type Server struct {
	engine         *engine.Engine
	router         *gin.Engine
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	streamInterval time.Duration
	shutdown       time.Duration
	metrics        http.Handler
	logger         *slog.Logger
	started        time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates the server and its routes.
func New(eng *engine.Engine, cfg config.ServerConfig, opts ...Option) *Server {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		engine: eng,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		streamInterval: cfg.StreamInterval,
		shutdown:       cfg.ShutdownTimeout,
		logger:         slog.Default().With("component", "server"),
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery(), s.traceRequests())
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/v1")
	v1.GET("/stats", s.handleStats)

	agents := v1.Group("/agents")
	{
		agents.GET("", s.handleListAgents)
		agents.POST("/:type/query", s.handleQuery)
		agents.POST("/:type/coverage", s.handleCoverage)
		agents.GET("/:type/modes", s.handleListModes)
		agents.GET("/:type/modes/:mode", s.handleGetMode)
		agents.PATCH("/:type/modes/:mode", s.handlePatchMode)
		agents.GET("/:type/modes/:mode/baseline", s.handleBaseline)
	}

	benchmarks := v1.Group("/benchmarks")
	{
		benchmarks.POST("", s.handleStartBenchmark)
		benchmarks.GET("", s.handleListBenchmarks)
		benchmarks.GET("/:id", s.handleProgress)
		benchmarks.DELETE("/:id", s.handleCancel)
		benchmarks.GET("/:id/results/:model", s.handleResults)
		benchmarks.GET("/:id/stream", s.handleStream)
	}

	v1.POST("/verify", s.handleVerify)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
	defer cancel()
	s.logger.Info("shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// traceRequests continues the caller's trace, wraps the request in a
// server span and logs it.
func (s *Server) traceRequests() gin.HandlerFunc {
	tracer := observability.Tracer()
	return func(c *gin.Context) {
		start := time.Now()
		ctx := observability.ExtractHeaders(c.Request.Context(), c.Request.Header)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds())
	}
}
