package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const maxUpsertAttempts = 16

// RedisStore keeps questions, results and baselines in Redis as JSON strings.
//
// Redis data layout:
//   - "{prefix}:questions:{agent}"              question bank
//   - "{prefix}:results:{agent}:{model}:{run}"  result collection
//   - "{prefix}:baseline:{agent}:{mode}"        performance record
//
// Baseline upserts use WATCH/MULTI so concurrent writers never lose an
// update.
//
// Example:
//
//	store, err := NewRedisStore("redis://localhost:6379/0", "agentqa")
//	defer store.Close()
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at redisURL.
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts), prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agentqa"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) questionsKey(agentType string) string {
	return fmt.Sprintf("%s:questions:%s", s.prefix, agentType)
}

func (s *RedisStore) resultsKey(agentType, model, runID string) string {
	return fmt.Sprintf("%s:results:%s:%s:%s", s.prefix, agentType, safeKey(model), runID)
}

func (s *RedisStore) baselineKey(agentType string, mode agentqa.Mode) string {
	return fmt.Sprintf("%s:baseline:%s:%s", s.prefix, agentType, mode)
}

// SaveQuestions stores the question bank of agentType.
func (s *RedisStore) SaveQuestions(ctx context.Context, agentType string, questions []agentqa.BaselineQuestion) error {
	data, err := json.Marshal(questionFile{AgentType: agentType, Questions: questions})
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	if err := s.client.Set(ctx, s.questionsKey(agentType), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store questions: %w", err)
	}
	return nil
}

// LoadQuestions implements QuestionBank.
func (s *RedisStore) LoadQuestions(ctx context.Context, agentType string) ([]agentqa.BaselineQuestion, error) {
	data, err := s.client.Get(ctx, s.questionsKey(agentType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, noQuestionBank(agentType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	var file questionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	return file.Questions, nil
}

// SaveModelResults implements ResultStore.
func (s *RedisStore) SaveModelResults(ctx context.Context, agentType, model, runID string, results []agentqa.ModelResult) error {
	if results == nil {
		results = []agentqa.ModelResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := s.client.Set(ctx, s.resultsKey(agentType, model, runID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store results: %w", err)
	}
	return nil
}

// LoadModelResults implements ResultStore.
func (s *RedisStore) LoadModelResults(ctx context.Context, agentType, model, runID string) ([]agentqa.ModelResult, error) {
	data, err := s.client.Get(ctx, s.resultsKey(agentType, model, runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []agentqa.ModelResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	results := []agentqa.ModelResult{}
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return results, nil
}

// UpsertBaselinePerformance implements ResultStore.
func (s *RedisStore) UpsertBaselinePerformance(ctx context.Context, update agentqa.BaselinePerformance) (agentqa.BaselinePerformance, error) {
	key := s.baselineKey(update.AgentType, update.Mode)
	var merged agentqa.BaselinePerformance

	txf := func(tx *redis.Tx) error {
		existing, err := getBaseline(ctx, tx, key)
		if err != nil {
			return err
		}
		merged = agentqa.MergeBaseline(existing, update)
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to encode baseline: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return merged, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return agentqa.BaselinePerformance{}, fmt.Errorf("failed to upsert baseline: %w", err)
		}
	}
	return agentqa.BaselinePerformance{}, fmt.Errorf("failed to upsert baseline: too much contention on %s", key)
}

// GetBaselinePerformance implements ResultStore.
func (s *RedisStore) GetBaselinePerformance(ctx context.Context, agentType string, mode agentqa.Mode) (*agentqa.BaselinePerformance, error) {
	return getBaseline(ctx, s.client, s.baselineKey(agentType, mode))
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getBaseline(ctx context.Context, c getter, key string) (*agentqa.BaselinePerformance, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	var record agentqa.BaselinePerformance
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode baseline: %w", err)
	}
	return &record, nil
}
