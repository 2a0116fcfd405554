package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/benchmark"
	"github.com/F8ai/formul8-platform-sub006/safety"
	"github.com/F8ai/formul8-platform-sub006/storage"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// QueryRequest is the body of POST /v1/agents/:type/query.
type QueryRequest struct {
	Mode     string                 `json:"mode"`
	Question string                 `json:"question" binding:"required"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// CoverageRequest is the body of POST /v1/agents/:type/coverage.
type CoverageRequest struct {
	Capabilities []string `json:"capabilities"`
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Primary        *agentqa.AgentResponse `json:"primary" binding:"required"`
	VerifyingAgent string                 `json:"verifying_agent" binding:"required"`
	Query          string                 `json:"query"`
}

// AgentInfo describes one agent in GET /v1/agents.
type AgentInfo struct {
	AgentType string               `json:"agent_type"`
	Modes     []agentqa.ModeConfig `json:"modes"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		cfgErr     *agentqa.ConfigError
		backendErr *agentqa.BackendError
		rejected   *safety.ValidationError
	)
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, benchmark.ErrRunNotFound),
		errors.Is(err, storage.ErrNoQuestionBank):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &backendErr):
		if backendErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"agents": len(s.engine.Agents()),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	ok(c, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleListAgents(c *gin.Context) {
	types := s.engine.Agents()
	infos := make([]AgentInfo, 0, len(types))
	for _, t := range types {
		modes, err := s.engine.Modes(t)
		if err != nil {
			fail(c, statusFor(err), err)
			return
		}
		infos = append(infos, AgentInfo{AgentType: t, Modes: modes})
	}
	ok(c, http.StatusOK, infos)
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		req.Mode = agentqa.ModePrompt.String()
	}

	resp, err := s.engine.RunQuery(c.Request.Context(), c.Param("type"), req.Mode, req.Question, req.Context)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, resp)
}

func (s *Server) handleCoverage(c *gin.Context) {
	var req CoverageRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	analysis, err := s.engine.AnalyzeCoverage(c.Request.Context(), c.Param("type"), req.Capabilities)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, analysis)
}

func (s *Server) handleListModes(c *gin.Context) {
	modes, err := s.engine.Modes(c.Param("type"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, modes)
}

func (s *Server) handleGetMode(c *gin.Context) {
	cfg, err := s.engine.GetModeConfig(c.Param("type"), c.Param("mode"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if cfg == nil {
		fail(c, http.StatusNotFound, errors.New("mode is not configured"))
		return
	}
	ok(c, http.StatusOK, cfg)
}

func (s *Server) handlePatchMode(c *gin.Context) {
	var patch agentqa.ModeConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	updated, err := s.engine.UpdateModeConfig(c.Request.Context(), c.Param("type"), c.Param("mode"), patch)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, updated)
}

func (s *Server) handleBaseline(c *gin.Context) {
	baseline, err := s.engine.Baseline(c.Request.Context(), c.Param("type"), c.Param("mode"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if baseline == nil {
		fail(c, http.StatusNotFound, errors.New("no baseline recorded"))
		return
	}
	ok(c, http.StatusOK, baseline)
}

func (s *Server) handleStartBenchmark(c *gin.Context) {
	var req benchmark.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if req.AgentType == "" {
		fail(c, http.StatusBadRequest, errors.New("agent_type is required"))
		return
	}
	runID := s.engine.RunBenchmark(c.Request.Context(), req)
	ok(c, http.StatusAccepted, gin.H{"run_id": runID})
}

func (s *Server) handleListBenchmarks(c *gin.Context) {
	ok(c, http.StatusOK, s.engine.ListBenchmarks())
}

func (s *Server) handleProgress(c *gin.Context) {
	progress, err := s.engine.GetProgress(c.Param("id"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, progress)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.engine.CancelBenchmark(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	progress, _ := s.engine.GetProgress(c.Param("id"))
	ok(c, http.StatusAccepted, progress)
}

func (s *Server) handleResults(c *gin.Context) {
	progress, err := s.engine.GetProgress(c.Param("id"))
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	results, err := s.engine.Results(c.Request.Context(), progress.AgentType, c.Param("model"), progress.RunID)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, results)
}

// handleStream polls a run and pushes a progress snapshot whenever it
// changes. The socket closes after the terminal snapshot.
func (s *Server) handleStream(c *gin.Context) {
	runID := c.Param("id")
	if _, err := s.engine.GetProgress(runID); err != nil {
		fail(c, statusFor(err), err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	lastCompleted, lastState := -1, benchmark.State("")
	for {
		progress, err := s.engine.GetProgress(runID)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
			return
		}
		if progress.Completed != lastCompleted || progress.State != lastState {
			lastCompleted, lastState = progress.Completed, progress.State
			if err := conn.WriteJSON(progress); err != nil {
				return
			}
		}
		if progress.State.Terminal() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(progress.State)))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	query := req.Query
	if query == "" {
		query = req.Primary.Query
	}
	result, err := s.engine.Verify(c.Request.Context(), req.Primary, req.VerifyingAgent, query)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, http.StatusOK, result)
}
