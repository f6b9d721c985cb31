package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// FactorStore is an in-memory implementation of storage.FactorStore.
// Each call holds the store lock for its whole merge, so a write is never
// observed half applied.
type FactorStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.FactorPoint // keyed by factor name, sorted by (date, symbol)
}

// NewFactorStore creates a new in-memory factor store.
func NewFactorStore() *FactorStore {
	return &FactorStore{
		data: make(map[string][]*domain.FactorPoint),
	}
}

// Write appends points and deduplicates; the most recently written row wins.
func (s *FactorStore) Write(_ context.Context, name string, points []*domain.FactorPoint) error {
	if err := validatePoints(name, points); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[name]
	merged := make([]*domain.FactorPoint, 0, len(existing)+len(points))
	merged = append(merged, existing...)
	merged = append(merged, points...)

	s.data[name] = domain.DedupLastWins(merged)
	return nil
}

// Overwrite replaces the entry with a sorted, self-deduplicated copy of points.
// An empty slice clears the factor's history.
func (s *FactorStore) Overwrite(_ context.Context, name string, points []*domain.FactorPoint) error {
	if err := validatePoints(name, points); err != nil {
		return err
	}

	// Build the replacement before taking the lock, then assign once
	replacement := domain.DedupLastWins(points)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[name] = replacement
	return nil
}

// Read returns the entry restricted to [start, end]. Unknown names yield an empty table.
func (s *FactorStore) Read(_ context.Context, name string, start, end *time.Time) ([]*domain.FactorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, exists := s.data[name]
	if !exists {
		return []*domain.FactorPoint{}, nil
	}

	return domain.ClonePoints(domain.FilterDateRange(points, start, end)), nil
}

// Names returns the known factor names in ascending order.
func (s *FactorStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func validatePoints(name string, points []*domain.FactorPoint) error {
	if name == "" {
		return storage.ErrInvalidInput
	}
	for _, p := range points {
		if p == nil || p.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}
	return nil
}

var _ storage.FactorStore = (*FactorStore)(nil)
