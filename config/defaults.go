package config

import (
	"github.com/spf13/viper"

	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// DefaultModel is used by the built-in agents and providers.
const DefaultModel = "gpt-4o-mini"

// SetDefaults registers a default for every scalar key so that each one
// can also be set through the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.stream_interval", "1s")
	v.SetDefault("server.release", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.trace_context", true)
	v.SetDefault("logging.audit_file", "")

	v.SetDefault("telemetry.service_name", "agentqa")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.console", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metrics", true)

	v.SetDefault("default_provider", "")
	v.SetDefault("middleware.circuit_breaker.enabled", true)
	v.SetDefault("middleware.circuit_breaker.failure_threshold", 5)
	v.SetDefault("middleware.circuit_breaker.recovery_timeout", "60s")
	v.SetDefault("middleware.cache.enabled", false)
	v.SetDefault("middleware.cache.size", 1000)
	v.SetDefault("middleware.cache.ttl", "1h")

	v.SetDefault("benchmark.max_concurrent_models", 4)
	v.SetDefault("benchmark.call_delay", "500ms")
	v.SetDefault("benchmark.call_timeout", "60s")
	v.SetDefault("benchmark.grade_timeout", "30s")
	v.SetDefault("benchmark.max_attempts", 2)
	v.SetDefault("benchmark.retry_backoff", "1s")
	v.SetDefault("benchmark.max_jobs", 256)

	v.SetDefault("grading.judge_model", DefaultModel)
	v.SetDefault("grading.temperature", 0.1)
	v.SetDefault("grading.max_tokens", 150)
	v.SetDefault("grading.cache_size", 1024)

	v.SetDefault("verification.timeout", "60s")
	v.SetDefault("verification.model", "")

	v.SetDefault("coverage.judge_model", DefaultModel)
	v.SetDefault("coverage.temperature", 0.2)
	v.SetDefault("coverage.max_tokens", 1500)
	v.SetDefault("coverage.timeout", "90s")

	v.SetDefault("budget.per_run", 0.0)
	v.SetDefault("budget.thresholds", []float64{0.5, 0.8, 1.0})

	v.SetDefault("storage.kind", StorageMemory)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.redis_prefix", "agentqa")
	v.SetDefault("storage.questions_dir", "")

	v.SetDefault("safety.enabled", true)
	v.SetDefault("safety.max_query_length", 8000)
	v.SetDefault("safety.injection_threshold", 15)
	v.SetDefault("safety.block_pii", false)

	v.SetDefault("retrieval.enabled", false)
	v.SetDefault("retrieval.persist_dir", "")
	v.SetDefault("retrieval.embedding.provider", "openai")
	v.SetDefault("retrieval.embedding.model", "")
}

// DefaultProviders is a single OpenAI provider using OPENAI_API_KEY.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{{Name: ProviderOpenAI, Kind: ProviderOpenAI, Model: DefaultModel}}
}

// AllModes returns one active config per mode using model.
func AllModes(model string) []agentqa.ModeConfig {
	modes := make([]agentqa.ModeConfig, 0, len(agentqa.Modes()))
	for _, mode := range agentqa.Modes() {
		modes = append(modes, agentqa.ModeConfig{
			Mode:                 mode,
			ModelID:              model,
			Temperature:          0.2,
			MaxTokens:            1000,
			RetrievalEnabled:     mode == agentqa.ModeRAG || mode == agentqa.ModeKnowledgeBase || mode == agentqa.ModeExternalFlow,
			KnowledgeBaseEnabled: mode == agentqa.ModeKnowledgeBase || mode == agentqa.ModeExternalFlow,
			Active:               true,
		})
	}
	return modes
}

// DefaultAgents is the advisory platform's agent roster.
func DefaultAgents() []AgentConfig {
	sourced := true
	unsourced := false
	return []AgentConfig{
		{
			Type:         "compliance",
			SystemPrompt: "You are a cannabis regulatory compliance expert. Cite the governing regulation for every requirement and name the jurisdiction it applies to.",
			Capabilities: []string{"licensing", "packaging and labeling", "testing requirements", "track and trace", "advertising restrictions"},
			Modes:        AllModes(DefaultModel),
			Rules: []agent.RuleSpec{
				{Name: "uncited-regulation", Delta: -10, HasSources: &unsourced},
				{Name: "executive-escalation", Delta: -25, MetadataEquals: map[string]string{"escalation_level": "executive"}},
			},
		},
		{
			Type:         "science",
			SystemPrompt: "You are a cannabis scientist. Explain cannabinoid and terpene chemistry precisely and reference published research.",
			Capabilities: []string{"cannabinoid pharmacology", "terpene profiles", "extraction chemistry", "analytical testing", "dosing"},
			Modes:        AllModes(DefaultModel),
			Rules: []agent.RuleSpec{
				{Name: "long-sourced-answer", Delta: 15, MinLength: 500, HasSources: &sourced},
			},
		},
		{
			Type:         "formulation",
			SystemPrompt: "You are a cannabis product formulation expert covering edibles, tinctures, topicals and vape products.",
			Capabilities: []string{"edibles", "tinctures", "topicals", "emulsions", "stability"},
			Modes:        AllModes(DefaultModel),
		},
		{
			Type:         "operations",
			SystemPrompt: "You are a cannabis operations consultant covering cultivation, manufacturing workflows and inventory control.",
			Capabilities: []string{"cultivation", "standard operating procedures", "inventory", "quality assurance"},
			Modes:        AllModes(DefaultModel),
		},
		{
			Type:         "marketing",
			SystemPrompt: "You are a cannabis marketing strategist who knows state advertising restrictions.",
			Capabilities: []string{"brand strategy", "advertising compliance", "social media", "retail merchandising"},
			Modes:        AllModes(DefaultModel),
			Rules: []agent.RuleSpec{
				{Name: "unsourced-business-intelligence", Delta: -20, HasSources: &unsourced, QueryContains: []string{"market", "competitor", "pricing"}},
			},
		},
	}
}
