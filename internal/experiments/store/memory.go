package store

import (
	"context"
	"sync"

	"github.com/variantly/variantly/pkg/models"
)

// MemoryStore is the default in-process backend. It keeps clones on both
// write and read so that no caller ever shares memory with stored state.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*models.Experiment
	assignments map[assignmentKey]*models.Assignment
}

type assignmentKey struct {
	subjectID    string
	experimentID string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*models.Experiment),
		assignments: make(map[assignmentKey]*models.Assignment),
	}
}

// CreateExperiment inserts a new experiment.
func (s *MemoryStore) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; ok {
		return ErrExists
	}
	s.experiments[exp.ID] = exp.Clone()
	return nil
}

// GetExperiment returns a clone of the stored experiment.
func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return exp.Clone(), nil
}

// ListExperiments returns clones of all stored experiments.
func (s *MemoryStore) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		out = append(out, exp.Clone())
	}
	return out, nil
}

// UpdateExperiment overwrites an existing experiment.
func (s *MemoryStore) UpdateExperiment(ctx context.Context, exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; !ok {
		return ErrNotFound
	}
	s.experiments[exp.ID] = exp.Clone()
	return nil
}

// GetAssignment returns the stored assignment for the pair.
func (s *MemoryStore) GetAssignment(ctx context.Context, subjectID, experimentID string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentKey{subjectID, experimentID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// PutAssignment stores an assignment record.
func (s *MemoryStore) PutAssignment(ctx context.Context, a *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assignments[assignmentKey{a.SubjectID, a.ExperimentID}] = &cp
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }
