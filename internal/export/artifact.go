// Package export produces the CSV artifact of a todo export job.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/store"
)

const (
	ContentType = "text/csv"

	filePrefix = "todos_export_"
)

// Header is the first row of every export.
var Header = []string{"id", "title", "done"}

// Row is one exported item.
type Row struct {
	ID    int64
	Title string
	Done  bool
}

// ItemSource yields the items to export.
type ItemSource interface {
	List(ctx context.Context, filter store.ListFilter) ([]model.Todo, error)
}

// ArtifactPath is the deterministic location of the artifact for jobID.
// Re-running a job overwrites the same file.
func ArtifactPath(dir, jobID string) string {
	return filepath.Join(dir, filePrefix+jobID+".csv")
}

// DownloadName is the filename suggested to clients downloading jobID.
func DownloadName(jobID string) string {
	return "todos_" + jobID + ".csv"
}

// RowsFromTodos maps todos to export rows in list order.
func RowsFromTodos(todos []model.Todo) []Row {
	rows := make([]Row, 0, len(todos))
	for _, t := range todos {
		rows = append(rows, Row{ID: t.ID, Title: t.Text, Done: t.Done})
	}
	return rows
}

// WriteCSV writes rows to path and returns the number of data rows written.
// The file is written to a temporary sibling and renamed into place, so a
// failed write never leaves a partial artifact at path.
func WriteCSV(path string, rows []Row) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		record := []string{strconv.FormatInt(r.ID, 10), r.Title, strconv.FormatBool(r.Done)}
		if err := w.Write(record); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return 0, fmt.Errorf("failed to move csv into place: %w", err)
	}
	committed = true
	return len(rows), nil
}
