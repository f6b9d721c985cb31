package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
// Params, metrics and artifacts are stored as JSONB.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, run *domain.ExperimentRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO experiment_runs (
			run_id, experiment, run_name, params, metrics, artifacts, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.Experiment,
		run.RunName,
		stringMap(run.Params),
		floatMap(run.Metrics),
		stringMap(run.Artifacts),
		run.StartedAt,
		run.EndedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update replaces params, metrics, artifacts and end time of an existing run.
func (s *RunStore) Update(ctx context.Context, run *domain.ExperimentRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE experiment_runs
		SET params = $2, metrics = $3, artifacts = $4, ended_at = $5
		WHERE run_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		run.RunID,
		stringMap(run.Params),
		floatMap(run.Metrics),
		stringMap(run.Artifacts),
		run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by ID.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.ExperimentRun, error) {
	query := `
		SELECT run_id, experiment, run_name, params, metrics, artifacts, started_at, ended_at
		FROM experiment_runs
		WHERE run_id = $1
	`

	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return run, nil
}

// GetByExperiment retrieves all runs of an experiment ordered by start time ASC.
func (s *RunStore) GetByExperiment(ctx context.Context, experiment string) ([]*domain.ExperimentRun, error) {
	query := `
		SELECT run_id, experiment, run_name, params, metrics, artifacts, started_at, ended_at
		FROM experiment_runs
		WHERE experiment = $1
		ORDER BY started_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query, experiment)
	if err != nil {
		return nil, fmt.Errorf("get runs by experiment: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ExperimentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.ExperimentRun, error) {
	var run domain.ExperimentRun
	err := row.Scan(
		&run.RunID,
		&run.Experiment,
		&run.RunName,
		&run.Params,
		&run.Metrics,
		&run.Artifacts,
		&run.StartedAt,
		&run.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func stringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func floatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
