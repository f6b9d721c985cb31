package memory

import (
	"context"
	"sort"
	"sync"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ExperimentRun // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.ExperimentRun),
	}
}

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, run *domain.ExperimentRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[run.RunID] = cloneRun(run)
	return nil
}

// Update replaces the mutable parts of an existing run.
func (s *RunStore) Update(_ context.Context, run *domain.ExperimentRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[run.RunID]
	if !exists {
		return storage.ErrNotFound
	}

	updated := cloneRun(run)
	updated.Experiment = existing.Experiment
	updated.RunName = existing.RunName
	updated.StartedAt = existing.StartedAt
	s.data[run.RunID] = updated
	return nil
}

// GetByID retrieves a run by ID.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.ExperimentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRun(run), nil
}

// GetByExperiment retrieves all runs of an experiment ordered by start time.
func (s *RunStore) GetByExperiment(_ context.Context, experiment string) ([]*domain.ExperimentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExperimentRun
	for _, run := range s.data {
		if run.Experiment == experiment {
			result = append(result, cloneRun(run))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].RunID < result[j].RunID
	})
	return result, nil
}

func cloneRun(run *domain.ExperimentRun) *domain.ExperimentRun {
	cp := *run
	cp.Params = make(map[string]string, len(run.Params))
	for k, v := range run.Params {
		cp.Params[k] = v
	}
	cp.Metrics = make(map[string]float64, len(run.Metrics))
	for k, v := range run.Metrics {
		cp.Metrics[k] = v
	}
	cp.Artifacts = make(map[string]string, len(run.Artifacts))
	for k, v := range run.Artifacts {
		cp.Artifacts[k] = v
	}
	if run.EndedAt != nil {
		ended := *run.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}

var _ storage.RunStore = (*RunStore)(nil)
