package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/todoexport/api/internal/model"
)

// JSONFileStore keeps the list in memory and rewrites a JSON file after
// every mutation. A missing or unreadable file starts an empty list.
type JSONFileStore struct {
	path string
	mem  *MemoryStore
	// serializes mutate+save so the file always reflects the latest state
	mu sync.Mutex
}

var _ Store = (*JSONFileStore)(nil)

func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if path == "" {
		return nil, errors.New("todo file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create todo file directory: %w", err)
	}

	s := &JSONFileStore{path: path, mem: NewMemoryStore()}
	s.mem.load(readTodoFile(path))
	return s, nil
}

func readTodoFile(path string) []model.Todo {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var todos []model.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		return nil
	}
	return todos
}

func (s *JSONFileStore) save() error {
	data, err := json.MarshalIndent(s.mem.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal todos: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".todos-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write todos: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write todos: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace todo file: %w", err)
	}
	return nil
}

func (s *JSONFileStore) List(ctx context.Context, filter ListFilter) ([]model.Todo, error) {
	return s.mem.List(ctx, filter)
}

func (s *JSONFileStore) Add(ctx context.Context, text string) (*model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	todo, err := s.mem.Add(ctx, text)
	if err != nil {
		return nil, err
	}
	return todo, s.save()
}

func (s *JSONFileStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Delete(ctx, id); err != nil {
		return err
	}
	return s.save()
}

func (s *JSONFileStore) Toggle(ctx context.Context, id int64) (*model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	todo, err := s.mem.Toggle(ctx, id)
	if err != nil {
		return nil, err
	}
	return todo, s.save()
}

func (s *JSONFileStore) Reorder(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Reorder(ctx, ids); err != nil {
		return err
	}
	return s.save()
}

func (s *JSONFileStore) Close() error {
	return nil
}
