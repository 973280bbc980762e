package store

import (
	"context"
	"sync"
	"time"

	"github.com/todoexport/api/internal/model"
)

// MemoryStore keeps todos in process memory; the list resets on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	todos  []model.Todo
	nextID int64
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]model.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Apply(s.todos, filter), nil
}

func (s *MemoryStore) Add(ctx context.Context, text string) (*model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	position := 0
	for _, t := range s.todos {
		if t.Position >= position {
			position = t.Position + 1
		}
	}

	todo := model.Todo{
		ID:        s.nextID,
		Text:      text,
		Position:  position,
		CreatedAt: s.now().UTC(),
	}
	s.nextID++
	s.todos = append(s.todos, todo)
	sortTodos(s.todos)
	return &todo, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.todos {
		if t.ID == id {
			s.todos = append(s.todos[:i], s.todos[i+1:]...)
			return nil
		}
	}
	return ErrTodoNotFound
}

func (s *MemoryStore) Toggle(ctx context.Context, id int64) (*model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.todos {
		if s.todos[i].ID == id {
			s.todos[i].Done = !s.todos[i].Done
			todo := s.todos[i]
			return &todo, nil
		}
	}
	return nil, ErrTodoNotFound
}

func (s *MemoryStore) Reorder(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make([]int64, len(s.todos))
	byID := make(map[int64]int, len(s.todos))
	for i, t := range s.todos {
		current[i] = t.ID
		byID[t.ID] = i
	}

	for pos, id := range newOrder(current, ids) {
		s.todos[byID[id]].Position = pos
	}
	sortTodos(s.todos)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// snapshot returns a copy of all todos in order.
func (s *MemoryStore) snapshot() []model.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Todo, len(s.todos))
	copy(out, s.todos)
	return out
}

// load replaces the contents with todos, e.g. from a file.
func (s *MemoryStore) load(todos []model.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.todos = append([]model.Todo(nil), todos...)
	sortTodos(s.todos)
	s.nextID = 1
	for _, t := range s.todos {
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
}
