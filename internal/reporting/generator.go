package reporting

import (
	"context"
	"math"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	factorStore storage.FactorStore
	runStore    storage.RunStore
	experiment  string
	now         func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(factorStore storage.FactorStore, runStore storage.RunStore, experiment string) *Generator {
	return &Generator{
		factorStore: factorStore,
		runStore:    runStore,
		experiment:  experiment,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a report over every stored factor and the experiment's runs.
// A nil run store yields a report without runs.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	names, err := g.factorStore.Names(ctx)
	if err != nil {
		return nil, err
	}

	factors := make([]FactorSummaryRow, 0, len(names))
	for _, name := range names {
		points, err := g.factorStore.Read(ctx, name, nil, nil)
		if err != nil {
			return nil, err
		}
		factors = append(factors, SummarizeFactor(name, points))
	}

	runs := []RunRow{}
	if g.runStore != nil {
		stored, err := g.runStore.GetByExperiment(ctx, g.experiment)
		if err != nil {
			return nil, err
		}
		for _, run := range stored {
			runs = append(runs, runRow(run))
		}
	}

	return &Report{
		GeneratedAt: g.now(),
		Experiment:  g.experiment,
		Factors:     factors,
		Runs:        runs,
	}, nil
}

// SummarizeFactor computes descriptive statistics of a factor table.
func SummarizeFactor(name string, points []*domain.FactorPoint) FactorSummaryRow {
	row := FactorSummaryRow{Name: name, Rows: len(points)}
	if len(points) == 0 {
		return row
	}

	symbols := make(map[string]struct{})
	dates := make(map[int64]struct{})
	sum := 0.0
	row.Min, row.Max = math.Inf(1), math.Inf(-1)
	row.FirstDate, row.LastDate = points[0].Date, points[0].Date
	for _, p := range points {
		symbols[p.Symbol] = struct{}{}
		dates[p.Date.UnixNano()] = struct{}{}
		sum += p.Value
		row.Min = math.Min(row.Min, p.Value)
		row.Max = math.Max(row.Max, p.Value)
		if p.Date.Before(row.FirstDate) {
			row.FirstDate = p.Date
		}
		if p.Date.After(row.LastDate) {
			row.LastDate = p.Date
		}
	}
	row.Symbols = len(symbols)
	row.Dates = len(dates)
	row.Mean = sum / float64(len(points))

	if len(points) > 1 {
		sumSq := 0.0
		for _, p := range points {
			d := p.Value - row.Mean
			sumSq += d * d
		}
		row.Stddev = math.Sqrt(sumSq / float64(len(points)-1))
	}
	return row
}

func runRow(run *domain.ExperimentRun) RunRow {
	metrics := make(map[string]float64, len(run.Metrics))
	for k, v := range run.Metrics {
		metrics[k] = v
	}
	return RunRow{
		RunID:     run.RunID,
		RunName:   run.RunName,
		Factor:    run.Params["factor"],
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
		SpecHash:  run.Params["spec_hash"],
		DataHash:  run.Params["data_hash"],
		Metrics:   metrics,
	}
}
