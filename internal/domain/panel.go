package domain

import (
	"math"
	"sort"
	"time"
)

// Column names of the external long-form contract.
const (
	ColumnDate   = "date"
	ColumnSymbol = "symbol"
	ColumnValue  = "value"
)

// Null is the in-panel representation of a missing value.
var Null = math.NaN()

// IsNull reports whether v carries no usable value.
func IsNull(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// PanelRow is one (date, entity) observation with its field values.
// Missing values are stored as NaN.
type PanelRow struct {
	Date   time.Time
	Symbol string
	Values map[string]float64
}

// Get returns the value of a column, NaN if absent.
func (r *PanelRow) Get(column string) float64 {
	v, ok := r.Values[column]
	if !ok {
		return Null
	}
	return v
}

// Panel is a (date x entity) dataset of one or more fields.
type Panel struct {
	EntityKey string   // name of the entity column, "symbol" on the external contract
	Columns   []string // value columns, excluding date and entity
	Rows      []*PanelRow
}

// NewPanel creates an empty panel keyed by symbol.
func NewPanel(columns ...string) *Panel {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Panel{
		EntityKey: ColumnSymbol,
		Columns:   cols,
		Rows:      make([]*PanelRow, 0),
	}
}

// Append adds a row. Values missing from the map read as NaN.
func (p *Panel) Append(date time.Time, symbol string, values map[string]float64) {
	row := &PanelRow{Date: date, Symbol: symbol, Values: make(map[string]float64, len(values))}
	for k, v := range values {
		row.Values[k] = v
	}
	p.Rows = append(p.Rows, row)
}

// Len returns the number of rows.
func (p *Panel) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Rows)
}

// HasColumn reports whether the panel declares a value column.
func (p *Panel) HasColumn(column string) bool {
	for _, c := range p.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// AddColumn declares a value column if not yet present.
func (p *Panel) AddColumn(column string) {
	if !p.HasColumn(column) {
		p.Columns = append(p.Columns, column)
	}
}

// Clone returns a deep copy.
func (p *Panel) Clone() *Panel {
	out := &Panel{
		EntityKey: p.EntityKey,
		Columns:   append([]string(nil), p.Columns...),
		Rows:      make([]*PanelRow, len(p.Rows)),
	}
	for i, r := range p.Rows {
		values := make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			values[k] = v
		}
		out.Rows[i] = &PanelRow{Date: r.Date, Symbol: r.Symbol, Values: values}
	}
	return out
}

// Select returns a copy restricted to the given value columns.
// Columns absent from the panel are skipped.
func (p *Panel) Select(columns ...string) *Panel {
	keep := make([]string, 0, len(columns))
	for _, c := range columns {
		if p.HasColumn(c) {
			keep = append(keep, c)
		}
	}
	out := &Panel{EntityKey: p.EntityKey, Columns: keep, Rows: make([]*PanelRow, len(p.Rows))}
	for i, r := range p.Rows {
		values := make(map[string]float64, len(keep))
		for _, c := range keep {
			if v, ok := r.Values[c]; ok {
				values[c] = v
			}
		}
		out.Rows[i] = &PanelRow{Date: r.Date, Symbol: r.Symbol, Values: values}
	}
	return out
}

// Filter returns a panel sharing rows that satisfy keep.
func (p *Panel) Filter(keep func(*PanelRow) bool) *Panel {
	out := &Panel{EntityKey: p.EntityKey, Columns: append([]string(nil), p.Columns...)}
	out.Rows = make([]*PanelRow, 0, len(p.Rows))
	for _, r := range p.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Symbols returns the distinct symbols in ascending order.
func (p *Panel) Symbols() []string {
	seen := make(map[string]struct{})
	for _, r := range p.Rows {
		seen[r.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SortBySymbolDate orders rows by (symbol ASC, date ASC) in place.
// This is the order time-series operators consume.
func (p *Panel) SortBySymbolDate() {
	sort.SliceStable(p.Rows, func(i, j int) bool {
		a, b := p.Rows[i], p.Rows[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Date.Before(b.Date)
	})
}

// SortByDateSymbol orders rows by (date ASC, symbol ASC) in place.
func (p *Panel) SortByDateSymbol() {
	sort.SliceStable(p.Rows, func(i, j int) bool {
		a, b := p.Rows[i], p.Rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Symbol < b.Symbol
	})
}

// DateBounds returns the earliest and latest dates. ok is false for an empty panel.
func (p *Panel) DateBounds() (first, last time.Time, ok bool) {
	for i, r := range p.Rows {
		if i == 0 || r.Date.Before(first) {
			first = r.Date
		}
		if i == 0 || r.Date.After(last) {
			last = r.Date
		}
	}
	return first, last, len(p.Rows) > 0
}

// Bar is a single long-format observation: one field of one entity at one date.
// Loaders returning bars are pivoted into a Panel at the source boundary.
type Bar struct {
	Date   time.Time
	Symbol string
	Field  string
	Value  float64
}
