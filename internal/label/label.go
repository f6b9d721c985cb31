// Package label builds prediction targets aligned with factor tables.
package label

import (
	"errors"
	"fmt"
	"sort"

	"factor-lab/internal/domain"
)

// ColumnClose is the price field forward returns are computed from.
const ColumnClose = "close"

// DefaultHorizon is the forward-return horizon used by the orchestrator.
const DefaultHorizon = 5

var (
	// ErrMissingClose is returned when the panel has no close column.
	ErrMissingClose = errors.New("panel lacks close column")

	// ErrInvalidHorizon is returned for a non-positive horizon.
	ErrInvalidHorizon = errors.New("horizon must be positive")
)

// ForwardReturn computes close(t+h)/close(t) - 1 per symbol, where t+h is the
// h-th later row of the same symbol. Rows without a defined return are
// dropped. The result is sorted by (date, symbol).
func ForwardReturn(panel *domain.Panel, horizon int) ([]*domain.FactorPoint, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHorizon, horizon)
	}
	if panel == nil || !panel.HasColumn(ColumnClose) {
		return nil, ErrMissingClose
	}

	bySymbol := make(map[string][]*domain.PanelRow)
	for _, r := range panel.Rows {
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}

	out := make([]*domain.FactorPoint, 0, panel.Len())
	for symbol, rows := range bySymbol {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
		for i := 0; i+horizon < len(rows); i++ {
			base := rows[i].Get(ColumnClose)
			ahead := rows[i+horizon].Get(ColumnClose)
			if domain.IsNull(base) || domain.IsNull(ahead) || base == 0 {
				continue
			}
			v := ahead/base - 1
			if domain.IsNull(v) {
				continue
			}
			out = append(out, &domain.FactorPoint{Date: rows[i].Date, Symbol: symbol, Value: v})
		}
	}

	domain.SortPoints(out)
	return out, nil
}
