package agentqa

import (
	"fmt"
	"strings"
	"sync"
)

// Mode is an execution mode controlling which inputs feed an agent call.
//
// Modes form a closed set. Every agent keeps one slot per mode in a
// ModeTable, so an unknown mode is rejected before any lookup happens.
type Mode int

const (
	// ModeRaw sends the user prompt alone, without the agent's system prompt.
	ModeRaw Mode = iota
	// ModePrompt adds the agent's system prompt.
	ModePrompt
	// ModeRAG adds retrieved passages to the prompt.
	ModeRAG
	// ModeKnowledgeBase adds retrieved passages and knowledge-base entries.
	ModeKnowledgeBase
	// ModeExternalFlow delegates to an external flow when one is configured.
	ModeExternalFlow

	modeCount
)

var modeNames = [modeCount]string{
	ModeRaw:           "raw",
	ModePrompt:        "prompt",
	ModeRAG:           "rag",
	ModeKnowledgeBase: "kb",
	ModeExternalFlow:  "external",
}

var modeAliases = map[string]Mode{
	"raw":                             ModeRaw,
	"prompt":                          ModePrompt,
	"prompt-only":                     ModePrompt,
	"prompt_only":                     ModePrompt,
	"rag":                             ModeRAG,
	"prompt+retrieval":                ModeRAG,
	"prompt-rag":                      ModeRAG,
	"kb":                              ModeKnowledgeBase,
	"full":                            ModeKnowledgeBase,
	"prompt+retrieval+knowledge-base": ModeKnowledgeBase,
	"prompt-rag-kb":                   ModeKnowledgeBase,
	"external":                        ModeExternalFlow,
	"external-flow":                   ModeExternalFlow,
	"external_flow":                   ModeExternalFlow,
	"langchain":                       ModeExternalFlow,
}

// Modes returns every valid mode in table order.
func Modes() []Mode {
	modes := make([]Mode, 0, modeCount)
	for m := Mode(0); m < modeCount; m++ {
		modes = append(modes, m)
	}
	return modes
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= 0 && m < modeCount
}

// String returns the canonical mode name.
func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode resolves a canonical mode name or alias.
func ParseMode(s string) (Mode, error) {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return 0, NewConfigError("", s, "unknown mode")
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, NewConfigError("", m.String(), "unknown mode")
	}
	return []byte(modeNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ModeConfig is the call configuration of one execution mode.
type ModeConfig struct {
	Mode                 Mode    `json:"mode" yaml:"mode" mapstructure:"mode"`
	ModelID              string  `json:"model_id" yaml:"model_id" mapstructure:"model_id"`
	Temperature          float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens            int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	RetrievalEnabled     bool    `json:"retrieval_enabled" yaml:"retrieval_enabled" mapstructure:"retrieval_enabled"`
	KnowledgeBaseEnabled bool    `json:"knowledge_base_enabled" yaml:"knowledge_base_enabled" mapstructure:"knowledge_base_enabled"`
	Active               bool    `json:"active" yaml:"active" mapstructure:"active"`
}

// Validate checks the field ranges of the config.
func (c ModeConfig) Validate() error {
	if !c.Mode.Valid() {
		return NewConfigError("", c.Mode.String(), "unknown mode")
	}
	if c.ModelID == "" {
		return NewConfigError("", c.Mode.String(), "model id is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return NewConfigError("", c.Mode.String(), fmt.Sprintf("temperature %.2f outside [0, 2]", c.Temperature))
	}
	if c.MaxTokens <= 0 {
		return NewConfigError("", c.Mode.String(), fmt.Sprintf("max tokens must be positive, got %d", c.MaxTokens))
	}
	return nil
}

// ModeConfigPatch holds a partial update. Nil fields are left unchanged.
type ModeConfigPatch struct {
	ModelID              *string  `json:"model_id,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	MaxTokens            *int     `json:"max_tokens,omitempty"`
	RetrievalEnabled     *bool    `json:"retrieval_enabled,omitempty"`
	KnowledgeBaseEnabled *bool    `json:"knowledge_base_enabled,omitempty"`
	Active               *bool    `json:"active,omitempty"`
}

// Apply returns a copy of base with the patch merged in.
func (p ModeConfigPatch) Apply(base ModeConfig) ModeConfig {
	if p.ModelID != nil {
		base.ModelID = *p.ModelID
	}
	if p.Temperature != nil {
		base.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		base.MaxTokens = *p.MaxTokens
	}
	if p.RetrievalEnabled != nil {
		base.RetrievalEnabled = *p.RetrievalEnabled
	}
	if p.KnowledgeBaseEnabled != nil {
		base.KnowledgeBaseEnabled = *p.KnowledgeBaseEnabled
	}
	if p.Active != nil {
		base.Active = *p.Active
	}
	return base
}

// ModeTable holds at most one ModeConfig per mode for a single agent.
//
// Configs are stored by value and handed out as copies, so callers can
// never mutate the table outside Set and Update. Disabling a mode keeps its
// slot populated.
type ModeTable struct {
	mu        sync.RWMutex
	agentType string
	slots     [modeCount]*ModeConfig
}

// NewModeTable creates an empty table for the given agent type.
func NewModeTable(agentType string) *ModeTable {
	return &ModeTable{agentType: agentType}
}

// Get returns a copy of the config for mode, or nil if the mode is unconfigured.
func (t *ModeTable) Get(mode Mode) *ModeConfig {
	if !mode.Valid() {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	slot := t.slots[mode]
	if slot == nil {
		return nil
	}
	cfg := *slot
	return &cfg
}

// Set installs a complete config, replacing any existing one for the same mode.
func (t *ModeTable) Set(cfg ModeConfig) error {
	if err := cfg.Validate(); err != nil {
		return t.withAgent(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots[cfg.Mode] = &cfg
	return nil
}

// Update merges patch into the existing config for mode.
//
// It fails with a ConfigError when the mode is unknown or has no base config
// yet, and when the merged result violates the field ranges. On failure the
// stored config is left untouched.
func (t *ModeTable) Update(mode Mode, patch ModeConfigPatch) (ModeConfig, error) {
	if !mode.Valid() {
		return ModeConfig{}, NewConfigError(t.agentType, mode.String(), "unknown mode")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	base := t.slots[mode]
	if base == nil {
		return ModeConfig{}, NewConfigError(t.agentType, mode.String(), "no base config for mode")
	}

	merged := patch.Apply(*base)
	if err := merged.Validate(); err != nil {
		return ModeConfig{}, t.withAgent(err)
	}
	t.slots[mode] = &merged
	return merged, nil
}

// Configured returns copies of every populated slot in mode order.
func (t *ModeTable) Configured() []ModeConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	configs := make([]ModeConfig, 0, modeCount)
	for _, slot := range t.slots {
		if slot != nil {
			configs = append(configs, *slot)
		}
	}
	return configs
}

func (t *ModeTable) withAgent(err error) error {
	if ce, ok := err.(*ConfigError); ok && ce.AgentType == "" {
		ce.AgentType = t.agentType
	}
	return err
}
