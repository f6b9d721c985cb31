package storage

import (
	"context"
	"time"

	"factor-lab/internal/domain"
)

// FactorStore is the keyed, mergeable cache of computed factor values.
// For every name the stored table is sorted by (date, symbol) and holds at
// most one row per key.
type FactorStore interface {
	// Write appends points to the entry and deduplicates; on duplicate
	// (date, symbol) keys the most recently written row wins.
	Write(ctx context.Context, name string, points []*domain.FactorPoint) error

	// Overwrite replaces the entry with a sorted, deduplicated copy of points
	// (last row wins). An empty slice clears the entry.
	Overwrite(ctx context.Context, name string, points []*domain.FactorPoint) error

	// Read returns the entry restricted to [start, end] (nil bounds are open).
	// Unknown names return an empty, non-nil table.
	Read(ctx context.Context, name string, start, end *time.Time) ([]*domain.FactorPoint, error)

	// Names returns the known factor names in ascending order.
	Names(ctx context.Context) ([]string, error)
}

// PanelStore provides access to raw panel values in long format.
type PanelStore interface {
	// InsertBulk adds multiple bars atomically. Fails entire batch on duplicate (date, symbol, field).
	InsertBulk(ctx context.Context, bars []domain.Bar) error

	// Load retrieves bars for the universe and fields within [start, end] (inclusive),
	// ordered by (date, symbol, field).
	Load(ctx context.Context, universe []string, start, end time.Time, fields []string) ([]domain.Bar, error)
}

// RunStore provides access to tracked experiment runs.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, run *domain.ExperimentRun) error

	// Update replaces params, metrics, artifacts and end time of an existing run.
	// Returns ErrNotFound if run_id does not exist.
	Update(ctx context.Context, run *domain.ExperimentRun) error

	// GetByID retrieves a run. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.ExperimentRun, error)

	// GetByExperiment retrieves all runs of an experiment, ordered by start time ASC.
	GetByExperiment(ctx context.Context, experiment string) ([]*domain.ExperimentRun, error)
}
