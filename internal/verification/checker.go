package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/source"
	"factor-lab/internal/storage"
	"factor-lab/internal/storage/memory"
)

// Defaults for CheckerOptions.
const (
	DefaultChunkDays          = 4
	DefaultBatchSize          = 2
	DefaultIncrementalPeriods = 5
)

// ModeResult is the outcome of one computation mode compared to full.
type ModeResult struct {
	Mode        engine.Mode     `json:"mode"`
	Rows        int             `json:"rows"`
	Match       bool            `json:"match"`
	Skipped     bool            `json:"skipped"`          // the engine refused the mode for this spec
	Reason      string          `json:"reason,omitempty"` // refusal or error message
	Divergences []RowDivergence `json:"divergences,omitempty"`
}

// Report contains results for every checked mode.
type Report struct {
	Factor    string       `json:"factor"`
	FullRows  int          `json:"full_rows"`
	Matched   int          `json:"matched"`
	Divergent int          `json:"divergent"`
	Skipped   int          `json:"skipped"`
	Results   []ModeResult `json:"results"`
}

// OK reports whether no mode diverged from full.
func (r *Report) OK() bool {
	return r.Divergent == 0
}

// Checker recomputes a factor in every mode, each on a fresh store, and
// compares the results with the full computation.
type Checker struct {
	source       source.Source
	newEvaluator func() engine.Evaluator
	newStore     func() storage.FactorStore
	engineOpts   []engine.Option

	chunkDays          int
	batchSize          int
	incrementalPeriods int
	tolerance          float64
}

// CheckerOptions contains configuration for creating a Checker.
type CheckerOptions struct {
	Source       source.Source              // required
	NewEvaluator func() engine.Evaluator    // required
	NewStore     func() storage.FactorStore // defaults to memory.NewFactorStore; each call must return an isolated store
	EngineOpts   []engine.Option            // applied to every engine

	ChunkDays          int     // by-date chunk size, defaults to DefaultChunkDays
	BatchSize          int     // by-code batch size, defaults to DefaultBatchSize
	IncrementalPeriods int     // trailing periods recomputed incrementally, defaults to DefaultIncrementalPeriods
	Tolerance          float64 // defaults to ExactTolerance
}

// NewChecker creates a new Checker.
func NewChecker(opts CheckerOptions) *Checker {
	c := &Checker{
		source:             opts.Source,
		newEvaluator:       opts.NewEvaluator,
		newStore:           opts.NewStore,
		engineOpts:         opts.EngineOpts,
		chunkDays:          opts.ChunkDays,
		batchSize:          opts.BatchSize,
		incrementalPeriods: opts.IncrementalPeriods,
		tolerance:          opts.Tolerance,
	}
	if c.newStore == nil {
		c.newStore = func() storage.FactorStore { return memory.NewFactorStore() }
	}
	if c.chunkDays <= 0 {
		c.chunkDays = DefaultChunkDays
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.incrementalPeriods <= 0 {
		c.incrementalPeriods = DefaultIncrementalPeriods
	}
	return c
}

// Check computes spec over [start, end] in full mode and verifies that the
// incremental, by-date and by-code modes produce the same stored table.
// An error is returned only when the full computation itself fails.
func (c *Checker) Check(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) (*Report, error) {
	full, err := c.engine().ComputeFull(ctx, spec, universe, start, end)
	if err != nil {
		return nil, fmt.Errorf("full: %w", err)
	}

	report := &Report{Factor: spec.Name, FullRows: len(full)}
	report.add(c.compare(ctx, engine.ModeIncremental, spec.Name, full, func(e *engine.Engine) error {
		return c.runIncremental(ctx, e, spec, universe, start, end)
	}))
	report.add(c.compare(ctx, engine.ModeByDate, spec.Name, full, func(e *engine.Engine) error {
		_, err := e.ComputeFullByDate(ctx, spec, universe, start, end, c.chunkDays)
		return err
	}))
	report.add(c.compare(ctx, engine.ModeByCode, spec.Name, full, func(e *engine.Engine) error {
		_, err := e.ComputeFullByCode(ctx, spec, universe, start, end, c.batchSize)
		return err
	}))

	return report, nil
}

// runIncremental seeds the store with a full computation up to the last
// incrementalPeriods periods and extends it incrementally over them.
func (c *Checker) runIncremental(ctx context.Context, e *engine.Engine, spec *domain.FactorSpec, universe []string, start, end time.Time) error {
	start, end = spec.Freq.Truncate(start), spec.Freq.Truncate(end)
	cut := spec.Freq.Shift(end, -(c.incrementalPeriods - 1))
	if cut.After(start) {
		if _, err := e.ComputeFull(ctx, spec, universe, start, spec.Freq.Shift(cut, -1)); err != nil {
			return err
		}
	} else {
		cut = start
	}

	var dates []time.Time
	for d := cut; !d.After(end); d = spec.Freq.Shift(d, 1) {
		dates = append(dates, d)
	}
	_, err := e.ComputeIncremental(ctx, spec, universe, dates)
	return err
}

func (c *Checker) compare(ctx context.Context, mode engine.Mode, name string, full []*domain.FactorPoint, run func(*engine.Engine) error) ModeResult {
	res := ModeResult{Mode: mode}

	e := c.engine()
	if err := run(e); err != nil {
		res.Reason = err.Error()
		res.Skipped = isRefusal(err)
		return res
	}

	got, err := e.Store().Read(ctx, name, nil, nil)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.Rows = len(got)
	res.Divergences = CompareTables(full, got, c.tolerance)
	res.Match = len(res.Divergences) == 0
	return res
}

func (c *Checker) engine() *engine.Engine {
	return engine.New(c.newStore(), c.source, c.newEvaluator(), c.engineOpts...)
}

func (r *Report) add(res ModeResult) {
	switch {
	case res.Skipped:
		r.Skipped++
	case res.Match:
		r.Matched++
	default:
		r.Divergent++
	}
	r.Results = append(r.Results, res)
}

// isRefusal reports whether the engine declined a mode as unsafe for the factor.
func isRefusal(err error) bool {
	return errors.Is(err, engine.ErrUnsafeChunking) ||
		errors.Is(err, engine.ErrUnsafeBatching) ||
		errors.Is(err, engine.ErrUnsafeIncremental)
}
