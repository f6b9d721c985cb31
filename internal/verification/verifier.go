// Package verification checks that every computation mode of the engine
// produces the same factor table.
package verification

import (
	"encoding/json"
	"math"
	"time"

	"factor-lab/internal/domain"
)

// ExactTolerance requires bit-identical values.
const ExactTolerance = 0.0

// Divergence kinds.
const (
	DivergenceMissing = "missing" // row present only in the expected table
	DivergenceExtra   = "extra"   // row present only in the actual table
	DivergenceValue   = "value"   // same key, different value
)

// RowDivergence represents a mismatch between an expected and an actual row.
type RowDivergence struct {
	Kind     string  `json:"kind"`
	Date     string  `json:"date"` // RFC3339
	Symbol   string  `json:"symbol"`
	Expected float64 `json:"expected"` // NaN for extra rows
	Actual   float64 `json:"actual"`   // NaN for missing rows
}

// MarshalJSON encodes NaN values as null.
func (d RowDivergence) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     string   `json:"kind"`
		Date     string   `json:"date"`
		Symbol   string   `json:"symbol"`
		Expected *float64 `json:"expected"`
		Actual   *float64 `json:"actual"`
	}{d.Kind, d.Date, d.Symbol, finite(d.Expected), finite(d.Actual)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// CompareTables compares two long-form tables keyed by (date, symbol) and
// returns divergences in (date, symbol) order. Values match when they differ
// by at most tol; with ExactTolerance they must be bit-identical.
func CompareTables(expected, actual []*domain.FactorPoint, tol float64) []RowDivergence {
	exp := domain.DedupLastWins(expected)
	act := domain.DedupLastWins(actual)

	var divergences []RowDivergence
	i, j := 0, 0
	for i < len(exp) || j < len(act) {
		var c int
		switch {
		case i == len(exp):
			c = 1
		case j == len(act):
			c = -1
		default:
			c = domain.ComparePoints(exp[i], act[j])
		}

		switch {
		case c < 0:
			divergences = append(divergences, divergence(DivergenceMissing, exp[i], exp[i].Value, math.NaN()))
			i++
		case c > 0:
			divergences = append(divergences, divergence(DivergenceExtra, act[j], math.NaN(), act[j].Value))
			j++
		default:
			if !floatEquals(exp[i].Value, act[j].Value, tol) {
				divergences = append(divergences, divergence(DivergenceValue, exp[i], exp[i].Value, act[j].Value))
			}
			i++
			j++
		}
	}
	return divergences
}

func divergence(kind string, p *domain.FactorPoint, expected, actual float64) RowDivergence {
	return RowDivergence{
		Kind:     kind,
		Date:     p.Date.UTC().Format(time.RFC3339),
		Symbol:   p.Symbol,
		Expected: expected,
		Actual:   actual,
	}
}

// floatEquals compares two float64 values within tol.
// A zero tol compares bit patterns.
func floatEquals(a, b, tol float64) bool {
	if tol == ExactTolerance {
		return math.Float64bits(a) == math.Float64bits(b)
	}
	return math.Abs(a-b) <= tol
}
