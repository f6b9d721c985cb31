// Package tracking records experiment runs: parameters, metrics and text
// artifacts of each orchestrator invocation.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
	"factor-lab/internal/storage/memory"
)

// DefaultExperiment is the experiment runs are filed under unless configured.
const DefaultExperiment = "AlphaFactors"

var (
	// ErrNoActiveRun is returned when logging outside Start/End.
	ErrNoActiveRun = errors.New("no active run")

	// ErrRunActive is returned by Start while another run is open.
	ErrRunActive = errors.New("a run is already active")
)

// Tracker records one run at a time.
type Tracker interface {
	// Start opens a run and returns its id.
	Start(ctx context.Context, runName string) (string, error)
	// LogParams merges string parameters into the active run.
	LogParams(ctx context.Context, params map[string]string) error
	// LogMetrics merges metrics into the active run.
	LogMetrics(ctx context.Context, metrics map[string]float64) error
	// LogArtifact stores a named text artifact on the active run.
	LogArtifact(ctx context.Context, name, content string) error
	// End closes the active run.
	End(ctx context.Context) error
}

// StoreTracker persists runs through a storage.RunStore. Every log call is
// written through so a crashed process leaves a partial run behind.
type StoreTracker struct {
	store      storage.RunStore
	experiment string
	logger     *log.Logger
	now        func() time.Time
	newID      func() string

	mu     sync.Mutex
	active *domain.ExperimentRun
}

// Options for creating a StoreTracker.
type Options struct {
	Store      storage.RunStore // required
	Experiment string           // defaults to DefaultExperiment
	Logger     *log.Logger      // optional
}

// NewStoreTracker creates a tracker over a run store.
func NewStoreTracker(opts Options) *StoreTracker {
	exp := opts.Experiment
	if exp == "" {
		exp = DefaultExperiment
	}
	return &StoreTracker{
		store:      opts.Store,
		experiment: exp,
		logger:     opts.Logger,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// NewMemoryTracker creates a tracker backed by an in-memory run store.
func NewMemoryTracker(experiment string) *StoreTracker {
	return NewStoreTracker(Options{Store: memory.NewRunStore(), Experiment: experiment})
}

// Store returns the underlying run store.
func (t *StoreTracker) Store() storage.RunStore {
	return t.store
}

// Experiment returns the experiment name runs are filed under.
func (t *StoreTracker) Experiment() string {
	return t.experiment
}

// Start implements Tracker.
func (t *StoreTracker) Start(ctx context.Context, runName string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		return "", fmt.Errorf("%w: %s", ErrRunActive, t.active.RunName)
	}
	run := &domain.ExperimentRun{
		RunID:      t.newID(),
		Experiment: t.experiment,
		RunName:    runName,
		Params:     map[string]string{},
		Metrics:    map[string]float64{},
		Artifacts:  map[string]string{},
		StartedAt:  t.now().UTC(),
	}
	if err := t.store.Insert(ctx, run); err != nil {
		return "", fmt.Errorf("insert run %s: %w", runName, err)
	}
	t.active = run
	t.logf("started %s (%s)", runName, run.RunID)
	return run.RunID, nil
}

// LogParams implements Tracker.
func (t *StoreTracker) LogParams(ctx context.Context, params map[string]string) error {
	return t.update(ctx, func(run *domain.ExperimentRun) {
		for k, v := range params {
			run.Params[k] = v
		}
	})
}

// LogMetrics implements Tracker.
func (t *StoreTracker) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	return t.update(ctx, func(run *domain.ExperimentRun) {
		for k, v := range metrics {
			run.Metrics[k] = v
		}
	})
}

// LogArtifact implements Tracker.
func (t *StoreTracker) LogArtifact(ctx context.Context, name, content string) error {
	return t.update(ctx, func(run *domain.ExperimentRun) {
		run.Artifacts[name] = content
	})
}

// End implements Tracker. The run stays active if the store update fails.
func (t *StoreTracker) End(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return ErrNoActiveRun
	}
	ended := t.now().UTC()
	t.active.EndedAt = &ended
	if err := t.store.Update(ctx, t.active); err != nil {
		t.active.EndedAt = nil
		return fmt.Errorf("end run %s: %w", t.active.RunName, err)
	}
	t.logf("ended %s (%s)", t.active.RunName, t.active.RunID)
	t.active = nil
	return nil
}

func (t *StoreTracker) update(ctx context.Context, apply func(*domain.ExperimentRun)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return ErrNoActiveRun
	}
	apply(t.active)
	if err := t.store.Update(ctx, t.active); err != nil {
		return fmt.Errorf("update run %s: %w", t.active.RunName, err)
	}
	return nil
}

func (t *StoreTracker) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

var _ Tracker = (*StoreTracker)(nil)
