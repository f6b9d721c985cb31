package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

type barKey struct {
	date   int64
	symbol string
	field  string
}

// PanelStore is an in-memory implementation of storage.PanelStore.
type PanelStore struct {
	mu   sync.RWMutex
	data map[barKey]domain.Bar
}

// NewPanelStore creates a new in-memory panel store.
func NewPanelStore() *PanelStore {
	return &PanelStore{
		data: make(map[barKey]domain.Bar),
	}
}

func keyOf(b domain.Bar) barKey {
	return barKey{date: b.Date.UnixNano(), symbol: b.Symbol, field: b.Field}
}

// InsertBulk adds multiple bars atomically.
// Fails the entire batch if any (date, symbol, field) already exists or repeats within the batch.
func (s *PanelStore) InsertBulk(_ context.Context, bars []domain.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[barKey]struct{}, len(bars))
	for _, b := range bars {
		if b.Symbol == "" || b.Field == "" {
			return storage.ErrInvalidInput
		}
		k := keyOf(b)
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, dup := seen[k]; dup {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, b := range bars {
		s.data[keyOf(b)] = b
	}
	return nil
}

// Load retrieves bars for the universe and fields within [start, end].
// An empty universe or field list matches everything.
func (s *PanelStore) Load(_ context.Context, universe []string, start, end time.Time, fields []string) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := toSet(universe)
	wanted := toSet(fields)

	result := make([]domain.Bar, 0)
	for _, b := range s.data {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		if len(symbols) > 0 {
			if _, ok := symbols[b.Symbol]; !ok {
				continue
			}
		}
		if len(wanted) > 0 {
			if _, ok := wanted[b.Field]; !ok {
				continue
			}
		}
		result = append(result, b)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Field < b.Field
	})
	return result, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

var _ storage.PanelStore = (*PanelStore)(nil)
