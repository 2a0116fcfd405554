package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/F8ai/formul8-platform-sub006/adapter/llm"
	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingConfig configures the response cache.
type CachingConfig struct {
	// MaxCacheSize is the maximum number of cached responses.
	// Default: 1000
	MaxCacheSize int

	// TTL is how long a response stays valid.
	// Default: 1 hour
	TTL time.Duration

	// MaxTemperature caps which calls are cacheable. Calls sampled at a
	// higher temperature go straight to the backend.
	// Default: 0.2
	MaxTemperature float64
}

// DefaultCachingConfig returns a caching config with sensible defaults.
func DefaultCachingConfig() CachingConfig {
	return CachingConfig{
		MaxCacheSize:   1000,
		TTL:            time.Hour,
		MaxTemperature: 0.2,
	}
}

// CachingMetrics tracks cache hits and misses.
type CachingMetrics struct {
	Hits   atomic.Int64
	Misses atomic.Int64
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (m *CachingMetrics) HitRate() float64 {
	hits, misses := m.Hits.Load(), m.Misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// CachingLLM memoizes low-temperature completions. Grading calls repeat
// the same prompt across reruns of a benchmark, so they are the main user.
type CachingLLM struct {
	backend llm.LLM
	config  CachingConfig
	cache   *expirable.LRU[string, *agentqa.Message]
	metrics *CachingMetrics
}

var _ llm.LLM = (*CachingLLM)(nil)

// NewCachingLLM creates a new caching decorator.
func NewCachingLLM(backend llm.LLM, config CachingConfig) *CachingLLM {
	if config.MaxCacheSize <= 0 {
		config.MaxCacheSize = 1000
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.MaxTemperature == 0 {
		config.MaxTemperature = 0.2
	}
	return &CachingLLM{
		backend: backend,
		config:  config,
		cache:   expirable.NewLRU[string, *agentqa.Message](config.MaxCacheSize, nil, config.TTL),
		metrics: &CachingMetrics{},
	}
}

// Model returns the underlying backend's model.
func (c *CachingLLM) Model() string {
	return c.backend.Model()
}

// Metrics returns the cache metrics.
func (c *CachingLLM) Metrics() *CachingMetrics {
	return c.metrics
}

// Len returns the number of cached responses.
func (c *CachingLLM) Len() int {
	return c.cache.Len()
}

// Purge drops every cached response.
func (c *CachingLLM) Purge() {
	c.cache.Purge()
}

// Complete implements llm.LLM with caching.
func (c *CachingLLM) Complete(ctx context.Context, messages []*agentqa.Message, opts ...llm.CallOption) (*agentqa.Message, error) {
	options := llm.BuildCallOptions(opts...)
	if options.Temperature != nil && *options.Temperature > c.config.MaxTemperature {
		return c.backend.Complete(ctx, messages, opts...)
	}

	key := c.cacheKey(messages, options)
	if cached, ok := c.cache.Get(key); ok {
		c.metrics.Hits.Add(1)
		return copyMessage(cached, true), nil
	}
	c.metrics.Misses.Add(1)

	response, err := c.backend.Complete(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, copyMessage(response, false))
	return response, nil
}

func (c *CachingLLM) cacheKey(messages []*agentqa.Message, options *llm.CallOptions) string {
	type keyMessage struct {
		Role    string `json:"r"`
		Content string `json:"c"`
	}
	keyData := struct {
		Model       string       `json:"m"`
		Temperature *float64     `json:"t"`
		MaxTokens   *int         `json:"n"`
		Messages    []keyMessage `json:"msgs"`
	}{
		Model:       options.ModelFor(c.backend.Model()),
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}
	for _, msg := range messages {
		keyData.Messages = append(keyData.Messages, keyMessage{Role: msg.Role, Content: msg.Content})
	}

	jsonBytes, err := json.Marshal(keyData)
	if err != nil {
		return fmt.Sprintf("%s:%d", keyData.Model, len(messages))
	}
	return fmt.Sprintf("%x", sha256.Sum256(jsonBytes))
}

func copyMessage(msg *agentqa.Message, hit bool) *agentqa.Message {
	out := agentqa.NewMessage(msg.Role, msg.Content)
	for k, v := range msg.Metadata {
		out.Metadata[k] = v
	}
	if hit {
		out.Metadata["cache_hit"] = true
	}
	return out
}
