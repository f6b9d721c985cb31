// Package orchestrator runs end-to-end factor experiments.
// It coordinates: engine computation → forward-return label → IC and
// long-short evaluation → run tracking
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/evaluation"
	"factor-lab/internal/idhash"
	"factor-lab/internal/label"
	"factor-lab/internal/observability"
	"factor-lab/internal/reporting"
	"factor-lab/internal/source"
	"factor-lab/internal/tracking"
)

// SampleRows bounds the factor sample attached to a full run.
const SampleRows = 1000

// Artifact names attached to runs.
const (
	ArtifactSample = "sample.csv"
	ArtifactBlocks = "blocks.txt"
)

// Orchestrator coordinates the experiment pipeline.
// Flow: compute → label → evaluate → track
type Orchestrator struct {
	engine     *engine.Engine
	source     source.Source
	tracker    tracking.Tracker
	evaluator  evaluation.Evaluator
	backtester evaluation.Backtester

	horizon int
	verbose bool
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Engine  *engine.Engine
	Source  source.Source // supplies close prices for the label
	Tracker tracking.Tracker

	// Defaults to evaluation.ICEvaluator and evaluation.LongShortBacktester
	Evaluator  evaluation.Evaluator
	Backtester evaluation.Backtester

	// Options
	Horizon int // label horizon in periods, defaults to label.DefaultHorizon
	Verbose bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		engine:     opts.Engine,
		source:     opts.Source,
		tracker:    opts.Tracker,
		evaluator:  opts.Evaluator,
		backtester: opts.Backtester,
		horizon:    opts.Horizon,
		verbose:    opts.Verbose,
	}
	if o.evaluator == nil {
		o.evaluator = evaluation.ICEvaluator{}
	}
	if o.backtester == nil {
		o.backtester = evaluation.LongShortBacktester{}
	}
	if o.horizon <= 0 {
		o.horizon = label.DefaultHorizon
	}
	return o
}

// RunResult contains results from one orchestrated run.
type RunResult struct {
	RunID      string
	RunName    string
	Metrics    map[string]float64
	FactorRows int
	SpecHash   string
	DataHash   string
}

// RunFull computes the factor over [start, end], evaluates it and tracks the run.
// Phases:
//  1. Compute (engine full mode, overwrites the stored factor)
//  2. Label (forward return from close)
//  3. Evaluate (IC + long-short backtest)
//  4. Track (params, metrics, sample artifact)
func (o *Orchestrator) RunFull(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) (*RunResult, error) {
	o.log("Phase 1: Computing %s over [%s, %s]...", spec.Name, fmtDate(start), fmtDate(end))
	var factor []*domain.FactorPoint
	err := phase("compute", func() (err error) {
		factor, err = o.engine.ComputeFull(ctx, spec, universe, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("phase 1 (compute) failed: %w", err)
	}
	o.log("  Computed %d rows", len(factor))

	o.log("Phase 2: Building %d-period forward return...", o.horizon)
	closes, labels, err := o.buildLabel(ctx, spec, universe, start, end)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (label) failed: %w", err)
	}
	o.log("  Built %d label rows", len(labels))

	o.log("Phase 3: Evaluating...")
	metrics, err := o.evaluate(spec, factor, labels)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (evaluate) failed: %w", err)
	}
	o.log("  IC=%.4f IR=%.4f ret_annual=%.4f",
		metrics[evaluation.MetricIC], metrics[evaluation.MetricIR], metrics[evaluation.MetricAnnualRet])

	result := &RunResult{
		RunName:    runName(spec, "full"),
		Metrics:    metrics,
		FactorRows: len(factor),
		SpecHash:   idhash.Short(idhash.ComputeSpecHash(spec)),
		DataHash:   shortDataHash(closes),
	}

	o.log("Phase 4: Tracking %s...", result.RunName)
	params := map[string]string{
		"factor":    spec.Name,
		"freq":      string(spec.Freq),
		"inputs":    strings.Join(spec.Inputs, ","),
		"lookback":  strconv.Itoa(spec.Lookback),
		"lag":       strconv.Itoa(spec.Lag),
		"horizon":   strconv.Itoa(o.horizon),
		"universe":  strconv.Itoa(len(universe)),
		"spec_hash": result.SpecHash,
		"data_hash": result.DataHash,
	}
	artifacts := map[string]string{
		ArtifactSample: reporting.RenderFactorCSV(tail(factor, SampleRows)),
		ArtifactBlocks: describeBlocks(spec),
	}
	err = phase("track", func() (err error) {
		result.RunID, err = o.track(ctx, result.RunName, params, metrics, artifacts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("phase 4 (track) failed: %w", err)
	}

	o.log("Run %s completed: %d rows", result.RunName, result.FactorRows)
	return result, nil
}

// RunIncremental computes the factor for newDates, merges it into the store,
// evaluates the new rows and tracks the run.
func (o *Orchestrator) RunIncremental(ctx context.Context, spec *domain.FactorSpec, universe []string, newDates []time.Time) (*RunResult, error) {
	if len(newDates) == 0 {
		return nil, fmt.Errorf("%w: no dates", engine.ErrInvalidRequest)
	}
	d0, d1 := dateRange(newDates)

	o.log("Phase 1: Computing %s incrementally over [%s, %s]...", spec.Name, fmtDate(d0), fmtDate(d1))
	var factor []*domain.FactorPoint
	err := phase("compute", func() (err error) {
		factor, err = o.engine.ComputeIncremental(ctx, spec, universe, newDates)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("phase 1 (compute) failed: %w", err)
	}
	o.log("  Computed %d rows", len(factor))

	o.log("Phase 2: Building %d-period forward return...", o.horizon)
	closes, labels, err := o.buildLabel(ctx, spec, universe, d0, d1)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (label) failed: %w", err)
	}

	o.log("Phase 3: Evaluating...")
	metrics, err := o.evaluate(spec, factor, labels)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (evaluate) failed: %w", err)
	}

	result := &RunResult{
		RunName:    runName(spec, "inc"),
		Metrics:    metrics,
		FactorRows: len(factor),
		SpecHash:   idhash.Short(idhash.ComputeSpecHash(spec)),
		DataHash:   shortDataHash(closes),
	}

	o.log("Phase 4: Tracking %s...", result.RunName)
	params := map[string]string{
		"factor":    spec.Name,
		"dates":     fmtDate(d0) + ":" + fmtDate(d1),
		"spec_hash": result.SpecHash,
		"data_hash": result.DataHash,
	}
	err = phase("track", func() (err error) {
		result.RunID, err = o.track(ctx, result.RunName, params, metrics, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("phase 4 (track) failed: %w", err)
	}

	o.log("Run %s completed: %d rows", result.RunName, result.FactorRows)
	return result, nil
}

// EvaluateStored evaluates the stored factor over [start, end] against the
// forward-return label without recomputing or tracking it.
func (o *Orchestrator) EvaluateStored(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) (map[string]float64, int, error) {
	s, e := spec.Freq.Truncate(start), spec.Freq.Truncate(end)
	factor, err := o.engine.Store().Read(ctx, spec.Name, &s, &e)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", spec.Name, err)
	}
	o.log("Evaluating %d stored rows of %s", len(factor), spec.Name)

	_, labels, err := o.buildLabel(ctx, spec, universe, s, e)
	if err != nil {
		return nil, 0, err
	}
	metrics, err := o.evaluate(spec, factor, labels)
	if err != nil {
		return nil, 0, err
	}
	return metrics, len(factor), nil
}

// buildLabel fetches close over [start, end+horizon] so rows near end still
// get a forward return when later data exists. It returns the close table
// over [start, end] alongside the label.
func (o *Orchestrator) buildLabel(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) ([]*domain.FactorPoint, []*domain.FactorPoint, error) {
	var closes, labels []*domain.FactorPoint
	err := phase("label", func() error {
		start, end := spec.Freq.Truncate(start), spec.Freq.Truncate(end)
		panel, err := o.source.Fetch(ctx, source.Request{
			Universe: universe,
			Start:    start,
			End:      spec.Freq.Shift(end, o.horizon),
			Fields:   []string{label.ColumnClose},
			Freq:     spec.Freq,
		})
		if err != nil {
			return fmt.Errorf("fetch close: %w", err)
		}

		labels, err = label.ForwardReturn(panel, o.horizon)
		if err != nil {
			return err
		}
		labels = domain.FilterDateRange(labels, &start, &end)
		closes = closeTable(panel, start, end)
		return nil
	})
	return closes, labels, err
}

func (o *Orchestrator) evaluate(spec *domain.FactorSpec, factor, labels []*domain.FactorPoint) (map[string]float64, error) {
	metrics := make(map[string]float64)
	err := phase("evaluate", func() error {
		ic, err := o.evaluator.Evaluate(factor, labels)
		if err != nil {
			return fmt.Errorf("ic: %w", err)
		}
		bt, err := o.backtester.Backtest(factor, labels)
		if err != nil {
			return fmt.Errorf("backtest: %w", err)
		}
		for k, v := range ic {
			metrics[k] = v
		}
		for k, v := range bt {
			metrics[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordIC(spec.Name, metrics[evaluation.MetricIC])
	return metrics, nil
}

// track records one run. The run is closed even when logging fails.
func (o *Orchestrator) track(ctx context.Context, name string, params map[string]string, metrics map[string]float64, artifacts map[string]string) (string, error) {
	runID, err := o.tracker.Start(ctx, name)
	if err != nil {
		return "", err
	}

	logErr := o.tracker.LogParams(ctx, params)
	if logErr == nil {
		logErr = o.tracker.LogMetrics(ctx, metrics)
	}
	for artifact, content := range artifacts {
		if logErr != nil {
			break
		}
		logErr = o.tracker.LogArtifact(ctx, artifact, content)
	}

	if err := o.tracker.End(ctx); err != nil && logErr == nil {
		logErr = err
	}
	if logErr != nil {
		return "", logErr
	}
	return runID, nil
}

// phase runs fn and records its duration and status.
func phase(name string, fn func() error) error {
	began := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordPipelineRun(name, status, time.Since(began).Seconds())
	return err
}

// closeTable returns close prices over [start, end] in long form.
func closeTable(panel *domain.Panel, start, end time.Time) []*domain.FactorPoint {
	out := make([]*domain.FactorPoint, 0, panel.Len())
	for _, r := range panel.Rows {
		v := r.Get(label.ColumnClose)
		if domain.IsNull(v) || r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		out = append(out, &domain.FactorPoint{Date: r.Date, Symbol: r.Symbol, Value: v})
	}
	domain.SortPoints(out)
	return out
}

func shortDataHash(points []*domain.FactorPoint) string {
	h := idhash.ComputeDataHash(points)
	if h == idhash.EmptyDataHash {
		return h
	}
	return idhash.Short(h)
}

func describeBlocks(spec *domain.FactorSpec) string {
	var sb strings.Builder
	for _, b := range spec.Blocks {
		if s, ok := b.(fmt.Stringer); ok {
			sb.WriteString(s.String())
		} else {
			sb.WriteString(b.Output() + " = " + b.Name() + "(...)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func runName(spec *domain.FactorSpec, mode string) string {
	freq := spec.Freq
	if freq == "" {
		freq = domain.FrequencyDaily
	}
	return fmt.Sprintf("%s_%s_%s", spec.Name, freq, mode)
}

func tail(points []*domain.FactorPoint, n int) []*domain.FactorPoint {
	if len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

func dateRange(dates []time.Time) (time.Time, time.Time) {
	d0, d1 := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(d0) {
			d0 = d
		}
		if d.After(d1) {
			d1 = d
		}
	}
	return d0, d1
}

func fmtDate(t time.Time) string {
	t = t.UTC()
	if t.Equal(domain.FrequencyDaily.Truncate(t)) {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}
