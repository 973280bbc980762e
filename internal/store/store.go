// Package store holds the todo list. Each backend mirrors one stage of the
// application: process memory, a JSON file, and a relational table.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/model"
)

// ErrTodoNotFound is returned when no todo has the given id.
var ErrTodoNotFound = errors.New("todo not found")

// ListFilter narrows a listing. Zero values match everything.
type ListFilter struct {
	Done  *bool
	Query string
	Limit int
}

// Store is the todo list. List returns todos ordered by position, then id.
type Store interface {
	List(ctx context.Context, filter ListFilter) ([]model.Todo, error)
	Add(ctx context.Context, text string) (*model.Todo, error)
	Delete(ctx context.Context, id int64) error
	Toggle(ctx context.Context, id int64) (*model.Todo, error)
	Reorder(ctx context.Context, ids []int64) error
	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "json":
		return NewJSONFileStore(cfg.TodoFile)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, cfg.URL)
	case "postgres", "postgresql", "pgx":
		return NewPostgresStore(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Match reports whether t passes the done and query parts of f.
func Match(t model.Todo, f ListFilter) bool {
	if f.Done != nil && t.Done != *f.Done {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(t.Text), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// Apply filters an already ordered slice and enforces the limit.
func Apply(todos []model.Todo, f ListFilter) []model.Todo {
	out := make([]model.Todo, 0, len(todos))
	for _, t := range todos {
		if !Match(t, f) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// sortTodos orders todos by position, then id.
func sortTodos(todos []model.Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		if todos[i].Position != todos[j].Position {
			return todos[i].Position < todos[j].Position
		}
		return todos[i].ID < todos[j].ID
	})
}

// newOrder puts the known ids from requested first, in that order, followed
// by the remaining ids of current in their existing order. Unknown and
// repeated ids are ignored.
func newOrder(current, requested []int64) []int64 {
	known := make(map[int64]bool, len(current))
	for _, id := range current {
		known[id] = true
	}

	out := make([]int64, 0, len(current))
	placed := make(map[int64]bool, len(current))
	for _, id := range requested {
		if known[id] && !placed[id] {
			out = append(out, id)
			placed[id] = true
		}
	}
	for _, id := range current {
		if !placed[id] {
			out = append(out, id)
		}
	}
	return out
}
