package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/todoexport/api/internal/model"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]model.Job
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]model.Job)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (s *MemoryStore) Advance(ctx context.Context, job *model.Job) error {
	if err := Validate(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var from model.JobState
	if current, ok := s.jobs[job.ID]; ok {
		from = current.State
	}
	if !CanTransition(from, job.State) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, job.State)
	}
	s.jobs[job.ID] = *job
	return nil
}
