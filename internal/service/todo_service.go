package service

import (
	"context"
	"errors"
	"strings"

	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/store"
)

// ErrEmptyTodo is returned when a todo has no text after trimming.
var ErrEmptyTodo = errors.New("todo text is empty")

// TodoService handles the todo list
type TodoService struct {
	store store.Store
}

func NewTodoService(s store.Store) *TodoService {
	return &TodoService{store: s}
}

func (s *TodoService) List(ctx context.Context, filter store.ListFilter) ([]model.Todo, error) {
	return s.store.List(ctx, filter)
}

// Add stores a new todo with surrounding whitespace removed.
func (s *TodoService) Add(ctx context.Context, text string) (*model.Todo, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTodo
	}
	return s.store.Add(ctx, text)
}

func (s *TodoService) Delete(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

func (s *TodoService) Toggle(ctx context.Context, id int64) (*model.Todo, error) {
	return s.store.Toggle(ctx, id)
}

func (s *TodoService) Reorder(ctx context.Context, ids []int64) error {
	return s.store.Reorder(ctx, ids)
}
