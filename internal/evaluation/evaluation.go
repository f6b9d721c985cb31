// Package evaluation scores factor tables against forward-return labels.
//
// Both scorers join the factor and the label on (date, symbol) and work
// date by date: the information coefficient is the per-date Pearson
// correlation, the long-short backtest holds the sign of the per-date
// z-score.
package evaluation

import (
	"sort"
	"time"

	"factor-lab/internal/domain"
)

// Metric names reported by the scorers.
const (
	MetricIC          = "IC"
	MetricIR          = "IR"
	MetricCoverage    = "coverage"
	MetricICDays      = "ic_days"
	MetricAnnualRet   = "ret_annual"
	MetricMaxDrawdown = "max_drawdown"
	MetricSharpe      = "sharpe"
	MetricTradingDays = "trading_days"
)

// TradingDaysPerYear annualises daily long-short returns.
const TradingDaysPerYear = 252.0

// irEpsilon keeps IR finite when the IC series is constant.
const irEpsilon = 1e-12

// Evaluator scores a factor against a label.
type Evaluator interface {
	Evaluate(factor, label []*domain.FactorPoint) (map[string]float64, error)
}

// Backtester simulates a portfolio driven by a factor.
type Backtester interface {
	Backtest(factor, label []*domain.FactorPoint) (map[string]float64, error)
}

// pair is a joined (factor, label) observation.
type pair struct {
	factor float64
	label  float64
}

// dateSlice holds the joined observations of one date.
type dateSlice struct {
	date  time.Time
	pairs []pair
}

// join inner-joins factor and label on (date, symbol) and groups the result
// by date in ascending order. Null values on either side are skipped.
func join(factor, label []*domain.FactorPoint) (slices []dateSlice, joined int) {
	labels := make(map[domain.FactorKey]float64, len(label))
	for _, p := range label {
		if !domain.IsNull(p.Value) {
			labels[p.Key()] = p.Value
		}
	}

	byDate := make(map[int64]*dateSlice)
	for _, p := range factor {
		if domain.IsNull(p.Value) {
			continue
		}
		l, ok := labels[p.Key()]
		if !ok {
			continue
		}
		k := p.Date.UnixNano()
		ds, ok := byDate[k]
		if !ok {
			ds = &dateSlice{date: p.Date}
			byDate[k] = ds
		}
		ds.pairs = append(ds.pairs, pair{factor: p.Value, label: l})
		joined++
	}

	slices = make([]dateSlice, 0, len(byDate))
	for _, ds := range byDate {
		slices = append(slices, *ds)
	}
	sort.Slice(slices, func(i, j int) bool { return slices[i].date.Before(slices[j].date) })
	return slices, joined
}
