// Package source adapts raw data loaders to the canonical panel form.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"factor-lab/internal/domain"
)

// Source errors.
var (
	// ErrSchema is returned when fetched data lacks a required column.
	ErrSchema = errors.New("schema error")

	// ErrUnsupportedInput is returned when a loader yields a representation
	// the adapter cannot normalize.
	ErrUnsupportedInput = errors.New("unsupported input representation")
)

// Request describes one fetch.
type Request struct {
	Universe []string         // entity ids; empty means every entity the loader returns
	Start    time.Time        // inclusive
	End      time.Time        // inclusive
	Fields   []string         // required value columns
	Freq     domain.Frequency // bar size
}

// Source supplies raw panels.
type Source interface {
	// Fetch returns the requested fields for the universe within [Start, End],
	// sorted by (date, symbol). Fails with ErrSchema if a field is absent.
	Fetch(ctx context.Context, req Request) (*domain.Panel, error)
}

// Loader produces raw data in any representation accepted by Normalize.
type Loader func(ctx context.Context, req Request) (any, error)

// Options configures an Adapter.
type Options struct {
	Loader Loader
	Logger *log.Logger // optional
}

// Adapter is a Source backed by a Loader.
type Adapter struct {
	loader Loader
	logger *log.Logger
}

// NewAdapter creates a new Adapter.
func NewAdapter(opts Options) *Adapter {
	return &Adapter{
		loader: opts.Loader,
		logger: opts.Logger,
	}
}

// Compile-time interface check.
var _ Source = (*Adapter)(nil)

// Fetch loads, normalizes, validates and projects one request.
func (a *Adapter) Fetch(ctx context.Context, req Request) (*domain.Panel, error) {
	if a.loader == nil {
		return nil, errors.New("source adapter has no loader")
	}

	raw, err := a.loader(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	panel, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	if err := CheckSchema(panel, req.Fields); err != nil {
		return nil, err
	}

	universe := make(map[string]struct{}, len(req.Universe))
	for _, s := range req.Universe {
		universe[s] = struct{}{}
	}

	out := panel.Select(req.Fields...).Filter(func(r *domain.PanelRow) bool {
		if r.Date.Before(req.Start) || r.Date.After(req.End) {
			return false
		}
		if len(universe) == 0 {
			return true
		}
		_, ok := universe[r.Symbol]
		return ok
	})
	out.SortByDateSymbol()

	a.logf("fetched %d rows for %d symbols in [%s, %s]",
		out.Len(), len(req.Universe), req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))

	return out, nil
}

func (a *Adapter) logf(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Normalize converts an accepted representation into a canonical panel keyed
// by symbol. Accepted: *domain.Panel, []*domain.PanelRow, []domain.Bar.
func Normalize(raw any) (*domain.Panel, error) {
	switch v := raw.(type) {
	case *domain.Panel:
		if v == nil {
			return nil, fmt.Errorf("%w: nil panel", ErrUnsupportedInput)
		}
		out := v.Clone()
		out.EntityKey = domain.ColumnSymbol
		return out, nil

	case []*domain.PanelRow:
		return fromRows(v)

	case []domain.Bar:
		return fromBars(v)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedInput, raw)
	}
}

func fromRows(rows []*domain.PanelRow) (*domain.Panel, error) {
	columns := make(map[string]struct{})
	for _, r := range rows {
		if r == nil {
			return nil, fmt.Errorf("%w: nil row", ErrSchema)
		}
		for c := range r.Values {
			columns[c] = struct{}{}
		}
	}

	panel := domain.NewPanel(sortedKeys(columns)...)
	for _, r := range rows {
		panel.Append(r.Date, r.Symbol, r.Values)
	}
	return panel, nil
}

// fromBars pivots long records into one row per (date, symbol).
// A repeated (date, symbol, field) is a schema error.
func fromBars(bars []domain.Bar) (*domain.Panel, error) {
	type cell struct {
		date   int64
		symbol string
	}

	columns := make(map[string]struct{})
	index := make(map[cell]*domain.PanelRow)
	panel := domain.NewPanel()

	for _, b := range bars {
		if b.Field == "" {
			return nil, fmt.Errorf("%w: bar without field name", ErrSchema)
		}
		columns[b.Field] = struct{}{}

		k := cell{date: b.Date.UnixNano(), symbol: b.Symbol}
		row, ok := index[k]
		if !ok {
			row = &domain.PanelRow{Date: b.Date, Symbol: b.Symbol, Values: make(map[string]float64)}
			index[k] = row
			panel.Rows = append(panel.Rows, row)
		}
		if _, dup := row.Values[b.Field]; dup {
			return nil, fmt.Errorf("%w: duplicate %s for %s at %s",
				ErrSchema, b.Field, b.Symbol, b.Date.Format(time.RFC3339))
		}
		row.Values[b.Field] = b.Value
	}

	panel.Columns = sortedKeys(columns)
	return panel, nil
}

// CheckSchema verifies every row has a date and symbol and every required
// field is a declared column. An empty panel gains the required columns.
func CheckSchema(panel *domain.Panel, fields []string) error {
	if panel.Len() == 0 {
		for _, f := range fields {
			panel.AddColumn(f)
		}
		return nil
	}

	for _, r := range panel.Rows {
		if r.Date.IsZero() {
			return fmt.Errorf("%w: row without %s", ErrSchema, domain.ColumnDate)
		}
		if r.Symbol == "" {
			return fmt.Errorf("%w: row without %s", ErrSchema, domain.ColumnSymbol)
		}
	}

	var missing []string
	for _, f := range fields {
		if !panel.HasColumn(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %v", ErrSchema, missing)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
