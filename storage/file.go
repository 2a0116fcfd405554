package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// FileStore writes results and baselines as JSON files:
//
//	<root>/<agent>/results/<model>/<run>.json
//	<root>/<agent>/performance/<mode>.json
//
// Files are written to a temporary name and renamed into place, so readers
// never see a partial collection.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates a file store rooted at root, creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) resultPath(agentType, model, runID string) string {
	return filepath.Join(s.root, safeKey(agentType), "results", safeKey(model), safeKey(runID)+".json")
}

func (s *FileStore) baselinePath(agentType string, mode agentqa.Mode) string {
	return filepath.Join(s.root, safeKey(agentType), "performance", mode.String()+".json")
}

// SaveModelResults implements ResultStore.
func (s *FileStore) SaveModelResults(ctx context.Context, agentType, model, runID string, results []agentqa.ModelResult) error {
	if results == nil {
		results = []agentqa.ModelResult{}
	}
	return writeJSON(s.resultPath(agentType, model, runID), results)
}

// LoadModelResults implements ResultStore.
func (s *FileStore) LoadModelResults(ctx context.Context, agentType, model, runID string) ([]agentqa.ModelResult, error) {
	results := []agentqa.ModelResult{}
	if err := readJSON(s.resultPath(agentType, model, runID), &results); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []agentqa.ModelResult{}, nil
		}
		return nil, err
	}
	return results, nil
}

// UpsertBaselinePerformance implements ResultStore. Upserts from one process
// are serialized; the store assumes a single writer per directory.
func (s *FileStore) UpsertBaselinePerformance(ctx context.Context, update agentqa.BaselinePerformance) (agentqa.BaselinePerformance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetBaselinePerformance(ctx, update.AgentType, update.Mode)
	if err != nil {
		return agentqa.BaselinePerformance{}, err
	}
	merged := agentqa.MergeBaseline(existing, update)
	if err := writeJSON(s.baselinePath(update.AgentType, update.Mode), merged); err != nil {
		return agentqa.BaselinePerformance{}, err
	}
	return merged, nil
}

// GetBaselinePerformance implements ResultStore.
func (s *FileStore) GetBaselinePerformance(ctx context.Context, agentType string, mode agentqa.Mode) (*agentqa.BaselinePerformance, error) {
	var record agentqa.BaselinePerformance
	if err := readJSON(s.baselinePath(agentType, mode), &record); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// FileQuestionBank reads question banks from <dir>/<agent>.json, .yaml or
// .yml. A bank is either a list of questions or an object with a questions
// field.
type FileQuestionBank struct {
	dir string
}

// NewFileQuestionBank creates a question bank reading from dir.
func NewFileQuestionBank(dir string) *FileQuestionBank {
	return &FileQuestionBank{dir: dir}
}

// LoadQuestions implements QuestionBank.
func (b *FileQuestionBank) LoadQuestions(ctx context.Context, agentType string) ([]agentqa.BaselineQuestion, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(b.dir, safeKey(agentType)+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read question bank: %w", err)
		}
		questions, err := decodeQuestions(data, ext == ".json")
		if err != nil {
			return nil, fmt.Errorf("question bank %s: %w", path, err)
		}
		return questions, nil
	}
	return nil, noQuestionBank(agentType)
}

func decodeQuestions(data []byte, isJSON bool) ([]agentqa.BaselineQuestion, error) {
	trimmed := bytes.TrimSpace(data)
	if isJSON {
		if bytes.HasPrefix(trimmed, []byte("[")) {
			var list []agentqa.BaselineQuestion
			err := json.Unmarshal(trimmed, &list)
			return list, err
		}
		var file questionFile
		err := json.Unmarshal(trimmed, &file)
		return file.Questions, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, err
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var list []agentqa.BaselineQuestion
		err := node.Decode(&list)
		return list, err
	}
	var file questionFile
	err := node.Decode(&file)
	return file.Questions, err
}
