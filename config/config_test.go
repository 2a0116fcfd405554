package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

const sampleYAML = `
server:
  addr: ":9090"
  stream_interval: 250ms
logging:
  level: debug
  structured: true
providers:
  - kind: openai
    model: gpt-4o
  - name: claude
    kind: Anthropic
    model_prefixes: [claude]
    requests_per_minute: 50
    timeout: 45s
default_provider: openai
agents:
  - type: compliance
    system_prompt: You are a compliance expert.
    human_review_threshold: 65
    confidence_rules:
      - name: executive
        delta: -25
        metadata_equals:
          escalation_level: executive
    modes:
      - mode: prompt
        model_id: gpt-4o
        temperature: 0.2
        max_tokens: 800
        active: true
      - mode: prompt+retrieval
        model_id: gpt-4o
        temperature: 0.3
        max_tokens: 900
        retrieval_enabled: true
        active: true
benchmark:
  call_delay: 200ms
  max_attempts: 3
pricing:
  - model: gpt-4.1
    input_per_1k: 0.002
    output_per_1k: 0.008
storage:
  kind: file
  path: /tmp/agentqa
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentqa.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" || cfg.Server.StreamInterval != 250*time.Millisecond {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("default shutdown timeout not applied: %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[0].Name != "openai" || cfg.Providers[1].Kind != ProviderAnthropic {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Providers[1].RequestsPerMinute != 50 || cfg.Providers[1].ModelPrefixes[0] != "claude" || cfg.Providers[1].Timeout != 45*time.Second {
		t.Errorf("provider options lost: %+v", cfg.Providers[1])
	}

	compliance, ok := cfg.Agent("compliance")
	if !ok {
		t.Fatal("compliance agent missing")
	}
	if len(cfg.Agents) != 1 {
		t.Errorf("configured agents must replace the defaults, got %d", len(cfg.Agents))
	}
	if len(compliance.Modes) != 2 || compliance.Modes[1].Mode != agentqa.ModeRAG || !compliance.Modes[1].RetrievalEnabled {
		t.Errorf("modes = %+v", compliance.Modes)
	}
	if compliance.Rules[0].MetadataEquals["escalation_level"] != "executive" {
		t.Errorf("rules = %+v", compliance.Rules)
	}

	if cfg.Benchmark.CallDelay != 200*time.Millisecond || cfg.Benchmark.MaxAttempts != 3 || cfg.Benchmark.MaxConcurrentModels != 4 {
		t.Errorf("benchmark = %+v", cfg.Benchmark)
	}
	if cfg.Grading.Temperature != 0.1 || cfg.Grading.MaxTokens != 150 {
		t.Errorf("grading defaults = %+v", cfg.Grading)
	}
	if len(cfg.Pricing) != 1 || cfg.Pricing[0].Model != "gpt-4.1" {
		t.Errorf("pricing = %+v", cfg.Pricing)
	}
	if cfg.Storage.Kind != StorageFile || cfg.Storage.Path != "/tmp/agentqa" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENTQA_STORAGE_KIND", "redis")
	t.Setenv("AGENTQA_STORAGE_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("AGENTQA_BENCHMARK_CALL_TIMEOUT", "5s")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Kind != StorageRedis || cfg.Storage.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Benchmark.CallTimeout != 5*time.Second {
		t.Errorf("call timeout = %v", cfg.Benchmark.CallTimeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Kind != ProviderOpenAI {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if len(cfg.Agents) != len(DefaultAgents()) {
		t.Errorf("agents = %d", len(cfg.Agents))
	}
	for _, a := range cfg.Agents {
		if len(a.Modes) != len(agentqa.Modes()) {
			t.Errorf("agent %s has %d modes", a.Type, len(a.Modes))
		}
	}
	if cfg.Storage.Kind != StorageMemory {
		t.Errorf("storage kind = %q", cfg.Storage.Kind)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "duplicate mode",
			yaml: `
agents:
  - type: science
    modes:
      - {mode: prompt, model_id: m, temperature: 0.2, max_tokens: 10, active: true}
      - {mode: prompt-only, model_id: m, temperature: 0.2, max_tokens: 10, active: true}
`,
			wantErr: "configured twice",
		},
		{
			name: "temperature out of range",
			yaml: `
agents:
  - type: science
    modes:
      - {mode: raw, model_id: m, temperature: 2.5, max_tokens: 10, active: true}
`,
			wantErr: "temperature",
		},
		{
			name: "non-positive max tokens",
			yaml: `
agents:
  - type: science
    modes:
      - {mode: raw, model_id: m, temperature: 0.5, max_tokens: 0, active: true}
`,
			wantErr: "max",
		},
		{
			name:    "unknown provider",
			yaml:    "providers:\n  - kind: watsonx\n",
			wantErr: "unknown kind",
		},
		{
			name:    "negative provider timeout",
			yaml:    "providers:\n  - kind: openai\n    timeout: -1s\n",
			wantErr: "negative timeout",
		},
		{
			name:    "fallback to undefined provider",
			yaml:    "providers:\n  - kind: openai\n    fallbacks: [anthropic]\n",
			wantErr: "invalid fallback",
		},
		{
			name:    "unknown storage",
			yaml:    "storage:\n  kind: s3\n",
			wantErr: "unknown storage kind",
		},
		{
			name:    "file store without path",
			yaml:    "storage:\n  kind: file\n",
			wantErr: "storage.path",
		},
		{
			name: "bad rule",
			yaml: `
agents:
  - type: science
    confidence_rules:
      - name: nothing
`,
			wantErr: "zero delta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	p := ProviderConfig{Kind: ProviderAnthropic}
	if got := p.ResolveAPIKey(); got != "from-env" {
		t.Errorf("ResolveAPIKey() = %q", got)
	}
	p.APIKey = "explicit"
	if got := p.ResolveAPIKey(); got != "explicit" {
		t.Errorf("ResolveAPIKey() = %q", got)
	}
}
