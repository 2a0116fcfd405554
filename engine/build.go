package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agent"
	"github.com/F8ai/formul8-platform-sub006/budget"
	"github.com/F8ai/formul8-platform-sub006/composition"
	"github.com/F8ai/formul8-platform-sub006/config"
	"github.com/F8ai/formul8-platform-sub006/middleware"
	"github.com/F8ai/formul8-platform-sub006/observability"
	"github.com/F8ai/formul8-platform-sub006/retrieval"
	"github.com/F8ai/formul8-platform-sub006/storage"
)

// NewProvider creates the adapter for one provider entry.
func NewProvider(ctx context.Context, p config.ProviderConfig) (llm.LLM, error) {
	switch p.Kind {
	case config.ProviderOpenAI:
		return llm.NewOpenAILLM(llm.OpenAIConfig{APIKey: p.ResolveAPIKey(), BaseURL: p.BaseURL, Model: p.Model}), nil
	case config.ProviderAnthropic:
		return llm.NewAnthropicLLM(llm.AnthropicConfig{APIKey: p.ResolveAPIKey(), BaseURL: p.BaseURL, Model: p.Model}), nil
	case config.ProviderBedrock:
		return llm.NewBedrockLLM(ctx, llm.BedrockConfig{ModelID: p.Model, Region: p.Region, Profile: p.Profile, EndpointURL: p.BaseURL})
	case config.ProviderGemini:
		return llm.NewGeminiLLM(ctx, p.ResolveAPIKey(), p.Model)
	case config.ProviderOllama:
		return llm.NewOllamaLLM(p.Model, p.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// decorate wraps a provider in the configured middleware chain, innermost
// first: timeout, rate limit, circuit breaker, response cache, tracing, metrics.
func decorate(backend llm.LLM, p config.ProviderConfig, mw config.MiddlewareConfig, withMetrics bool) (llm.LLM, error) {
	if p.Timeout > 0 {
		backend = middleware.NewTimeoutLLM(backend, middleware.TimeoutConfig{Timeout: p.Timeout})
	}
	if p.RequestsPerMinute > 0 {
		backend = middleware.NewRateLimitedLLM(backend, middleware.EveryInterval(time.Duration(float64(time.Minute)/p.RequestsPerMinute)))
	}
	if mw.CircuitBreaker.Enabled {
		cb := middleware.DefaultCircuitBreakerConfig()
		if mw.CircuitBreaker.FailureThreshold > 0 {
			cb.FailureThreshold = mw.CircuitBreaker.FailureThreshold
		}
		if mw.CircuitBreaker.RecoveryTimeout > 0 {
			cb.RecoveryTimeout = mw.CircuitBreaker.RecoveryTimeout
		}
		backend = middleware.NewCircuitBreakerLLM(backend, cb)
	}
	if mw.Cache.Enabled {
		cache := middleware.DefaultCachingConfig()
		if mw.Cache.Size > 0 {
			cache.MaxCacheSize = mw.Cache.Size
		}
		if mw.Cache.TTL > 0 {
			cache.TTL = mw.Cache.TTL
		}
		backend = middleware.NewCachingLLM(backend, cache)
	}
	backend = observability.NewTracingLLM(backend)
	if withMetrics {
		measured, err := observability.NewMetricsLLM(backend)
		if err != nil {
			return nil, err
		}
		backend = measured
	}
	return backend, nil
}

// buildBackend creates every provider and routes between them.
func buildBackend(ctx context.Context, cfg *config.Config, withMetrics bool) (*llm.Router, error) {
	backends := make(map[string]llm.LLM, len(cfg.Providers))
	for _, p := range cfg.Providers {
		raw, err := NewProvider(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		backend, err := decorate(raw, p, cfg.Middleware, withMetrics)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		backends[p.Name] = backend
	}

	chained := make(map[string]llm.LLM, len(backends))
	for _, p := range cfg.Providers {
		if len(p.Fallbacks) == 0 {
			chained[p.Name] = backends[p.Name]
			continue
		}
		others := make([]llm.LLM, 0, len(p.Fallbacks))
		for _, name := range p.Fallbacks {
			others = append(others, backends[name])
		}
		chain, err := composition.NewFallbackLLM(backends[p.Name], others...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		chained[p.Name] = chain
	}
	backends = chained

	fallback := cfg.DefaultProvider
	if fallback == "" && len(cfg.Providers) > 0 {
		fallback = cfg.Providers[0].Name
	}
	router := llm.NewRouter(backends[fallback])
	for _, p := range cfg.Providers {
		router.Register(p.Name, backends[p.Name], p.ModelPrefixes...)
	}
	return router, nil
}

type stores struct {
	questions storage.QuestionBank
	results   storage.ResultStore
	closer    io.Closer
}

func buildStores(cfg config.StorageConfig) (*stores, error) {
	s := &stores{}
	switch cfg.Kind {
	case config.StorageFile:
		fileStore, err := storage.NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		s.results = fileStore
	case config.StorageRedis:
		redisStore, err := storage.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		s.results, s.questions, s.closer = redisStore, redisStore, redisStore
	default:
		memory := storage.NewInMemoryStore()
		s.results, s.questions = memory, memory
	}

	if cfg.QuestionsDir != "" {
		s.questions = storage.NewFileQuestionBank(cfg.QuestionsDir)
	}
	if s.questions == nil {
		return nil, fmt.Errorf("storage kind %s needs storage.questions_dir", cfg.Kind)
	}
	return s, nil
}

func buildPricing(entries []config.PriceConfig) *budget.PricingTable {
	overrides := make(map[string]budget.Rate, len(entries))
	for _, e := range entries {
		overrides[e.Model] = budget.Rate{InputPer1K: e.InputPer1K, OutputPer1K: e.OutputPer1K}
	}
	return budget.NewPricingTable(overrides)
}

// buildAgent creates one agent with its modes, rules and retrieval sources.
func buildAgent(ctx context.Context, ac config.AgentConfig, backend llm.LLM, vectors *retrieval.Store, logger *slog.Logger) (*agent.Agent, error) {
	rules, err := agent.CompileRules(ac.Rules)
	if err != nil {
		return nil, err
	}
	opts := []agent.Option{
		agent.WithRules(rules...),
		agent.WithLogger(logger.With("agent_type", ac.Type)),
	}

	if vectors != nil {
		rag, err := loadCollection(ctx, vectors.RetrievalCollection, ac.Type, ac.RetrievalDocs)
		if err != nil {
			return nil, err
		}
		kb, err := loadCollection(ctx, vectors.KnowledgeBaseCollection, ac.Type, ac.KnowledgeBaseDocs)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithRetriever(rag), agent.WithKnowledgeBase(kb))
	}
	if ac.ExternalFlow != nil && ac.ExternalFlow.URL != "" {
		opts = append(opts, agent.WithExternalFlow(agent.NewHTTPFlow(ac.ExternalFlow.URL, ac.ExternalFlow.APIKey)))
	}

	a := agent.New(agent.Config{
		AgentType:            ac.Type,
		SystemPrompt:         ac.SystemPrompt,
		HumanReviewThreshold: ac.HumanReviewThreshold,
		TopK:                 ac.TopK,
	}, backend, opts...)

	for _, mode := range ac.Modes {
		if err := a.SetModeConfig(mode); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func loadCollection(ctx context.Context, open func(string) (*retrieval.Collection, error), agentType, docsPath string) (*retrieval.Collection, error) {
	collection, err := open(agentType)
	if err != nil {
		return nil, err
	}
	if docsPath == "" || collection.Count() > 0 {
		return collection, nil
	}
	docs, err := retrieval.LoadDocuments(docsPath)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentType, err)
	}
	if err := collection.Add(ctx, docs); err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentType, err)
	}
	return collection, nil
}
