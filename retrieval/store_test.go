package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// bagOfWords is a deterministic embedding: hashed word counts, normalized.
func bagOfWords(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,?!")))
		vec[h.Sum32()%64]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / math.Sqrt(norm))
	}
	return vec, nil
}

func TestCollectionRetrieve(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", bagOfWords)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	coll, err := store.RetrievalCollection("compliance")
	if err != nil {
		t.Fatalf("RetrievalCollection failed: %v", err)
	}

	if passages, err := coll.Retrieve(ctx, "anything", 3); err != nil || len(passages) != 0 {
		t.Fatalf("Expected empty result from empty collection, got %v (%v)", passages, err)
	}

	docs := []Document{
		{ID: "d1", Content: "retail cannabis license application fees", Source: "CCR 15000"},
		{ID: "d2", Content: "hemp testing laboratory accreditation", Source: "CCR 15700"},
	}
	if err := coll.Add(ctx, docs); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if coll.Count() != 2 {
		t.Fatalf("Expected 2 documents, got %d", coll.Count())
	}

	passages, err := coll.Retrieve(ctx, "license application fees for retail", 10)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("Expected k clamped to 2, got %d", len(passages))
	}
	if passages[0].ID != "d1" || passages[0].Source != "CCR 15000" {
		t.Errorf("Expected d1 first, got %+v", passages[0])
	}

	if err := coll.Delete(ctx, "d2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if coll.Count() != 1 {
		t.Errorf("Expected 1 document after delete, got %d", coll.Count())
	}
}

func TestCollectionsAreSeparate(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore("", bagOfWords)

	rag, _ := store.RetrievalCollection("science")
	kb, _ := store.KnowledgeBaseCollection("science")
	_ = kb.Add(ctx, []Document{{Content: "terpene profiles"}})

	if rag.Count() != 0 || kb.Count() != 1 {
		t.Errorf("Expected separate collections, got rag=%d kb=%d", rag.Count(), kb.Count())
	}
	if rag.Name() == kb.Name() {
		t.Error("Expected distinct collection names")
	}
}

func TestNewStoreRequiresEmbedding(t *testing.T) {
	if _, err := NewStore("", nil); err == nil {
		t.Error("Expected error without embedding function")
	}
}

func TestNewEmbeddingFunc(t *testing.T) {
	for _, provider := range []string{"", "openai", "ollama", "OLLAMA"} {
		if fn, err := NewEmbeddingFunc(EmbeddingConfig{Provider: provider}); err != nil || fn == nil {
			t.Errorf("Provider %q: unexpected error %v", provider, err)
		}
	}
	if _, err := NewEmbeddingFunc(EmbeddingConfig{Provider: "cohere"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "kb.yaml")
	_ = os.WriteFile(yamlPath, []byte("- id: a\n  content: first\n  source: s1\n- content: second\n"), 0o644)
	docs, err := LoadDocuments(yamlPath)
	if err != nil || len(docs) != 2 || docs[0].Source != "s1" {
		t.Fatalf("Unexpected YAML result %+v (%v)", docs, err)
	}

	jsonPath := filepath.Join(dir, "kb.json")
	_ = os.WriteFile(jsonPath, []byte(`[{"id":"b","content":"third","source":"s2"}]`), 0o644)
	docs, err = LoadDocuments(jsonPath)
	if err != nil || len(docs) != 1 || docs[0].ID != "b" {
		t.Fatalf("Unexpected JSON result %+v (%v)", docs, err)
	}

	if _, err := LoadDocuments(filepath.Join(dir, "kb.txt")); err == nil {
		t.Error("Expected error for unsupported extension")
	}
}
