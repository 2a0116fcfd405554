// Package retrieval provides the vector stores behind the retrieval and
// knowledge-base execution modes.
//
// Each agent gets two chromem-go collections: one of reference passages
// used by the rag mode and one curated knowledge base added on top in the
// kb and external modes.
package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// Document is a passage to index.
type Document struct {
	ID      string            `json:"id" yaml:"id"`
	Content string            `json:"content" yaml:"content"`
	Source  string            `json:"source" yaml:"source"`
	Meta    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Passage is a retrieved document with its similarity to the query.
type Passage struct {
	ID         string
	Content    string
	Source     string
	Similarity float32
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// NewEmbeddingFunc builds a chromem embedding function from config.
func NewEmbeddingFunc(cfg EmbeddingConfig) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		model := chromem.EmbeddingModelOpenAI(cfg.Model)
		if model == "" {
			model = chromem.EmbeddingModelOpenAI3Small
		}
		if cfg.BaseURL != "" {
			return chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, string(model), nil), nil
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, model), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Store owns a chromem database shared by all agents' collections.
type Store struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// NewStore opens a store. An empty persistDir keeps everything in memory.
func NewStore(persistDir string, embed chromem.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}

	var db *chromem.DB
	if persistDir != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(persistDir, "agentqa-vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Store{db: db, embed: embed}, nil
}

// RetrievalCollection returns the agent's reference passage collection.
func (s *Store) RetrievalCollection(agentType string) (*Collection, error) {
	return s.collection(agentType + "-retrieval")
}

// KnowledgeBaseCollection returns the agent's knowledge base collection.
func (s *Store) KnowledgeBaseCollection(agentType string) (*Collection, error) {
	return s.collection(agentType + "-kb")
}

func (s *Store) collection(name string) (*Collection, error) {
	c, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return &Collection{name: name, collection: c}, nil
}

// Collection is a searchable set of passages.
type Collection struct {
	name       string
	collection *chromem.Collection
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Add indexes documents. Documents without an ID get one derived from
// their position in the collection.
func (c *Collection) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	base := c.collection.Count()
	converted := make([]chromem.Document, 0, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", c.name, base+i)
		}
		metadata := map[string]string{"source": doc.Source}
		for k, v := range doc.Meta {
			metadata[k] = v
		}
		converted = append(converted, chromem.Document{
			ID:       id,
			Content:  doc.Content,
			Metadata: metadata,
		})
	}

	if err := c.collection.AddDocuments(ctx, converted, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents to %s: %w", c.name, err)
	}
	return nil
}

// Retrieve returns up to k passages most similar to query. chromem rejects
// k larger than the collection, so k is clamped to Count.
func (c *Collection) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if k <= 0 {
		k = 3
	}
	if count := c.collection.Count(); k > count {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := c.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		source := r.Metadata["source"]
		if source == "" {
			source = r.ID
		}
		passages = append(passages, Passage{
			ID:         r.ID,
			Content:    r.Content,
			Source:     source,
			Similarity: r.Similarity,
		})
	}
	return passages, nil
}

// Delete removes documents by ID.
func (c *Collection) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.collection.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of indexed documents.
func (c *Collection) Count() int {
	return c.collection.Count()
}
