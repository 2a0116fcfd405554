// Package agentqa provides the core types shared by the agent quality-assurance engine.
//
// The engine runs domain agents in one of several execution modes, benchmarks
// them across LLM backends, and cross-checks answers between agents. This
// package holds the data model those components exchange: messages sent to
// backends, agent responses, benchmark results, baseline performance records,
// verification verdicts, coverage reports, and the typed error taxonomy.
package agentqa

import (
	"fmt"
	"time"
)

// Message is a single chat message exchanged with an LLM backend.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role, content string) *Message {
	return &Message{
		Role:      role,
		Content:   content,
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata adds metadata to the message and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

const maxContentSize = 1024 * 1024

// Validate checks the role and content size.
func (m *Message) Validate() error {
	switch m.Role {
	case "system", "user", "assistant":
	case "":
		return fmt.Errorf("message role cannot be empty")
	default:
		return fmt.Errorf("invalid message role: %s. Must be one of: system, user, assistant", m.Role)
	}

	if len(m.Content) > maxContentSize {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d bytes)", maxContentSize, len(m.Content))
	}
	return nil
}
