// Package config loads the engine configuration from a YAML or JSON file
// and AGENTQA_* environment variables.
//
// Example agentqa.yaml:
//
//	providers:
//	  - name: openai
//	    kind: openai
//	    model: gpt-4o-mini
//	  - name: anthropic
//	    kind: anthropic
//	    model_prefixes: [claude]
//	agents:
//	  - type: compliance
//	    system_prompt: You are a cannabis compliance expert.
//	    modes:
//	      - {mode: prompt, model_id: gpt-4o, temperature: 0.2, max_tokens: 800, active: true}
//	storage:
//	  kind: file
//	  path: ./data
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/F8ai/formul8-platform-sub006/retrieval"
)

// EnvPrefix prefixes every environment override, e.g. AGENTQA_STORAGE_KIND.
const EnvPrefix = "AGENTQA"

// Provider kinds.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Storage kinds.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config is the complete engine configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	Providers []ProviderConfig `mapstructure:"providers"`
	// DefaultProvider receives models no provider claims (default: the
	// first provider).
	DefaultProvider string           `mapstructure:"default_provider"`
	Middleware      MiddlewareConfig `mapstructure:"middleware"`

	Agents []AgentConfig `mapstructure:"agents"`

	Benchmark    BenchmarkConfig    `mapstructure:"benchmark"`
	Grading      GradingConfig      `mapstructure:"grading"`
	Verification VerificationConfig `mapstructure:"verification"`
	Coverage     CoverageConfig     `mapstructure:"coverage"`
	Pricing      []PriceConfig      `mapstructure:"pricing"`
	Budget       BudgetConfig       `mapstructure:"budget"`

	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Safety    SafetyConfig    `mapstructure:"safety"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// StreamInterval is how often the progress websocket polls a run.
	StreamInterval time.Duration `mapstructure:"stream_interval"`
	Release        bool          `mapstructure:"release"`
}

// SafetyConfig configures screening of incoming questions. Benchmark
// questions are not screened.
type SafetyConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	MaxQueryLength     int      `mapstructure:"max_query_length"`
	InjectionThreshold int      `mapstructure:"injection_threshold"`
	BannedPhrases      []string `mapstructure:"banned_phrases"`
	BlockPII           bool     `mapstructure:"block_pii"`
}

// LoggingConfig configures slog and the audit trail.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Structured   bool   `mapstructure:"structured"`
	TraceContext bool   `mapstructure:"trace_context"`
	// AuditFile receives JSON audit events. Empty disables the file sink.
	AuditFile string `mapstructure:"audit_file"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	Console      bool    `mapstructure:"console"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Metrics      bool    `mapstructure:"metrics"`
}

// ProviderConfig describes one LLM backend.
type ProviderConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
	// APIKey falls back to the provider's conventional environment
	// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY).
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// Region and Profile apply to Bedrock.
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
	// ModelPrefixes routes bare model names starting with a prefix here.
	ModelPrefixes []string `mapstructure:"model_prefixes"`
	// RequestsPerMinute limits calls to this provider. Zero is unlimited.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	// Timeout bounds a single call to this provider. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// Fallbacks names providers tried in order when this one fails.
	Fallbacks []string `mapstructure:"fallbacks"`
}

// ResolveAPIKey returns the configured key or the environment fallback.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	switch p.Kind {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// MiddlewareConfig configures the decorators around every provider.
type MiddlewareConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Cache          CacheConfig          `mapstructure:"cache"`
}

// CircuitBreakerConfig configures the per-model circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// CacheConfig configures the response cache for low-temperature calls.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// AgentConfig describes one agent.
type AgentConfig struct {
	Type                 string  `mapstructure:"type"`
	SystemPrompt         string  `mapstructure:"system_prompt"`
	HumanReviewThreshold float64 `mapstructure:"human_review_threshold"`
	TopK                 int     `mapstructure:"top_k"`
	// Capabilities feed the coverage analyzer when a request names none.
	Capabilities []string             `mapstructure:"capabilities"`
	Rules        []agent.RuleSpec     `mapstructure:"confidence_rules"`
	Modes        []agentqa.ModeConfig `mapstructure:"modes"`
	ExternalFlow *ExternalFlowConfig  `mapstructure:"external_flow"`
	// RetrievalDocs and KnowledgeBaseDocs are JSON, YAML or text files
	// loaded into the agent's collections at startup.
	RetrievalDocs     string `mapstructure:"retrieval_docs"`
	KnowledgeBaseDocs string `mapstructure:"knowledge_base_docs"`
}

// ExternalFlowConfig points an agent's external mode at an HTTP flow.
type ExternalFlowConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// BenchmarkConfig configures the benchmark runner.
type BenchmarkConfig struct {
	MaxConcurrentModels int           `mapstructure:"max_concurrent_models"`
	CallDelay           time.Duration `mapstructure:"call_delay"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	GradeTimeout        time.Duration `mapstructure:"grade_timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	MaxJobs             int           `mapstructure:"max_jobs"`
}

// GradingConfig configures the rubric judge.
type GradingConfig struct {
	JudgeModel  string  `mapstructure:"judge_model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	CacheSize   int     `mapstructure:"cache_size"`
}

// VerificationConfig configures cross-agent verification.
type VerificationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Model   string        `mapstructure:"model"`
}

// CoverageConfig configures the coverage judge.
type CoverageConfig struct {
	JudgeModel  string        `mapstructure:"judge_model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PriceConfig overrides the built-in rate for one model.
type PriceConfig struct {
	Model       string  `mapstructure:"model"`
	InputPer1K  float64 `mapstructure:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k"`
}

// BudgetConfig configures per-run spend warnings.
type BudgetConfig struct {
	// PerRun is the warning budget for one benchmark run. Zero disables
	// warnings.
	PerRun     float64   `mapstructure:"per_run"`
	Thresholds []float64 `mapstructure:"thresholds"`
}

// StorageConfig selects the result store and question bank.
type StorageConfig struct {
	Kind string `mapstructure:"kind"`
	// Path is the root of the file store.
	Path        string `mapstructure:"path"`
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	// QuestionsDir holds <agent>.json or <agent>.yaml question banks. When
	// empty, questions come from the result store's backend (Redis or
	// memory).
	QuestionsDir string `mapstructure:"questions_dir"`
}

// RetrievalConfig configures the vector store behind the rag and kb modes.
type RetrievalConfig struct {
	Enabled    bool                      `mapstructure:"enabled"`
	PersistDir string                    `mapstructure:"persist_dir"`
	Embedding  retrieval.EmbeddingConfig `mapstructure:"embedding"`
}

// Load reads configuration from path, or from agentqa.yaml in the working
// directory or $HOME/.agentqa when path is empty. A missing default file
// is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentqa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".agentqa"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	for i := range cfg.Providers {
		cfg.Providers[i].Kind = strings.ToLower(cfg.Providers[i].Kind)
		if cfg.Providers[i].Name == "" {
			cfg.Providers[i].Name = cfg.Providers[i].Kind
		}
	}
	cfg.Storage.Kind = strings.ToLower(cfg.Storage.Kind)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot build.
func (c *Config) Validate() error {
	var errs []error

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		switch p.Kind {
		case ProviderOpenAI, ProviderAnthropic, ProviderBedrock, ProviderGemini, ProviderOllama:
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind))
		}
		if providers[p.Name] {
			errs = append(errs, fmt.Errorf("provider %q is defined twice", p.Name))
		}
		providers[p.Name] = true
		if p.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("provider %q: negative requests_per_minute", p.Name))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("provider %q: negative timeout", p.Name))
		}
	}
	for _, p := range c.Providers {
		for _, name := range p.Fallbacks {
			if name == p.Name || !providers[name] {
				errs = append(errs, fmt.Errorf("provider %q: invalid fallback %q", p.Name, name))
			}
		}
	}
	if c.DefaultProvider != "" && !providers[c.DefaultProvider] {
		errs = append(errs, fmt.Errorf("default_provider %q is not defined", c.DefaultProvider))
	}

	agents := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Type == "" {
			errs = append(errs, errors.New("agent without a type"))
			continue
		}
		if agents[a.Type] {
			errs = append(errs, fmt.Errorf("agent %q is defined twice", a.Type))
		}
		agents[a.Type] = true

		seen := make(map[agentqa.Mode]bool, len(a.Modes))
		for _, m := range a.Modes {
			if seen[m.Mode] {
				errs = append(errs, fmt.Errorf("agent %q: mode %s is configured twice", a.Type, m.Mode))
			}
			seen[m.Mode] = true
			if err := m.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("agent %q: %w", a.Type, err))
			}
		}
		if _, err := agent.CompileRules(a.Rules); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", a.Type, err))
		}
		if a.HumanReviewThreshold < 0 || a.HumanReviewThreshold > 100 {
			errs = append(errs, fmt.Errorf("agent %q: human_review_threshold outside [0, 100]", a.Type))
		}
	}

	switch c.Storage.Kind {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the file store"))
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage kind %q", c.Storage.Kind))
	}

	for _, p := range c.Pricing {
		if p.Model == "" || p.InputPer1K < 0 || p.OutputPer1K < 0 {
			errs = append(errs, fmt.Errorf("invalid pricing entry %+v", p))
		}
	}
	if c.Grading.Temperature < 0 || c.Grading.Temperature > 2 {
		errs = append(errs, errors.New("grading.temperature outside [0, 2]"))
	}
	if c.Grading.MaxTokens <= 0 {
		errs = append(errs, errors.New("grading.max_tokens must be positive"))
	}
	if c.Benchmark.MaxConcurrentModels <= 0 {
		errs = append(errs, errors.New("benchmark.max_concurrent_models must be positive"))
	}

	return errors.Join(errs...)
}

// Agent returns the configuration of agentType.
func (c *Config) Agent(agentType string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Type == agentType {
			return a, true
		}
	}
	return AgentConfig{}, false
}
