package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/store"
)

// Source names accepted by NewSource.
const (
	SourceStore = "store"
	SourceDemo  = "demo"
)

// DemoSource returns a fixed two-item list regardless of filters.
type DemoSource struct{}

var _ ItemSource = DemoSource{}

func (DemoSource) List(ctx context.Context, filter store.ListFilter) ([]model.Todo, error) {
	return []model.Todo{
		{ID: 1, Text: "Task 1", Done: false, Position: 1},
		{ID: 2, Text: "Task 2", Done: true, Position: 2},
	}, nil
}

// NewSource picks the item source named by the export.source setting.
func NewSource(name string, todos store.Store) (ItemSource, error) {
	switch strings.ToLower(name) {
	case "", SourceStore:
		if todos == nil {
			return nil, fmt.Errorf("export source %q needs a todo store", SourceStore)
		}
		return todos, nil
	case SourceDemo:
		return DemoSource{}, nil
	default:
		return nil, fmt.Errorf("unknown export source %q", name)
	}
}

// ParseFilters reads the opaque filters of an export request. Absent or
// null filters select everything; anything but a JSON object is rejected.
func ParseFilters(raw json.RawMessage) (store.ListFilter, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return store.ListFilter{}, nil
	}
	if trimmed[0] != '{' {
		return store.ListFilter{}, fmt.Errorf("filters must be a JSON object")
	}

	var f model.ExportFilters
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return store.ListFilter{}, fmt.Errorf("invalid filters: %w", err)
	}
	if f.Limit < 0 {
		return store.ListFilter{}, fmt.Errorf("invalid filters: limit must not be negative")
	}
	return store.ListFilter{Done: f.Done, Query: f.Query, Limit: f.Limit}, nil
}
