package agentqa

import (
	"context"
	"errors"
	"fmt"
)

// ConfigError reports an unknown agent or mode, or an invalid mode config.
// It is fatal to the call that hit it, not to the process.
type ConfigError struct {
	AgentType string
	Mode      string
	Message   string
	// Err is an optional sentinel the caller can match with errors.Is.
	Err error
}

func (e *ConfigError) Error() string {
	switch {
	case e.AgentType != "" && e.Mode != "":
		return fmt.Sprintf("config error: agent '%s' mode '%s': %s", e.AgentType, e.Mode, e.Message)
	case e.AgentType != "":
		return fmt.Sprintf("config error: agent '%s': %s", e.AgentType, e.Message)
	case e.Mode != "":
		return fmt.Sprintf("config error: mode '%s': %s", e.Mode, e.Message)
	default:
		return fmt.Sprintf("config error: %s", e.Message)
	}
}

// Unwrap returns the optional sentinel.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new config error.
func NewConfigError(agentType, mode, message string) *ConfigError {
	return &ConfigError{AgentType: agentType, Mode: mode, Message: message}
}

// BackendError reports a transport, timeout, or quota failure calling an LLM.
type BackendError struct {
	AgentType string
	Mode      Mode
	Model     string
	Cause     error
}

func (e *BackendError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("backend error: agent '%s' mode '%s' model '%s': %v", e.AgentType, e.Mode, e.Model, e.Cause)
	}
	return fmt.Sprintf("backend error: agent '%s' mode '%s': %v", e.AgentType, e.Mode, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the failure was a deadline.
func (e *BackendError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Cause, &t) && t.Timeout()
}

// NewBackendError creates a new backend error.
func NewBackendError(agentType string, mode Mode, model string, cause error) *BackendError {
	return &BackendError{AgentType: agentType, Mode: mode, Model: model, Cause: cause}
}

// GradingError reports a failed or unparsable judge call. Grading errors
// never abort a benchmark; the grade falls back to its default.
type GradingError struct {
	QuestionID string
	Model      string
	Cause      error
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("grading error: question '%s' model '%s': %v", e.QuestionID, e.Model, e.Cause)
}

func (e *GradingError) Unwrap() error {
	return e.Cause
}

// NewGradingError creates a new grading error.
func NewGradingError(questionID, model string, cause error) *GradingError {
	return &GradingError{QuestionID: questionID, Model: model, Cause: cause}
}

// ParseError reports malformed structured output from a judge or analyzer.
type ParseError struct {
	Source string
	Raw    string
	Cause  error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 120 {
		raw = raw[:120] + "..."
	}
	return fmt.Sprintf("parse error in %s output: %v (raw: %q)", e.Source, e.Cause, raw)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error.
func NewParseError(source, raw string, cause error) *ParseError {
	return &ParseError{Source: source, Raw: raw, Cause: cause}
}
