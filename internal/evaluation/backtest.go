package evaluation

import (
	"math"

	"factor-lab/internal/domain"
)

// LongShortResult summarises a daily long-short simulation.
type LongShortResult struct {
	AnnualReturn float64   // mean daily return x TradingDaysPerYear
	MaxDrawdown  float64   // worst peak-to-trough of cumulative daily returns
	Sharpe       float64   // annualised mean / stddev of daily returns
	Daily        []float64 // per-date returns in date order
}

// Metrics returns the result keyed by metric name.
func (r LongShortResult) Metrics() map[string]float64 {
	return map[string]float64{
		MetricAnnualRet:   r.AnnualReturn,
		MetricMaxDrawdown: r.MaxDrawdown,
		MetricSharpe:      r.Sharpe,
		MetricTradingDays: float64(len(r.Daily)),
	}
}

// LongShort standardises the factor per date, goes long positive scores and
// short negative ones with unit weights, and earns the mean of weight x label.
// Dates with fewer than two joined rows carry no cross-section and are skipped.
func LongShort(factor, label []*domain.FactorPoint) LongShortResult {
	slices, _ := join(factor, label)

	daily := make([]float64, 0, len(slices))
	for _, ds := range slices {
		if len(ds.pairs) < 2 {
			continue
		}
		values := make([]float64, len(ds.pairs))
		for i, p := range ds.pairs {
			values[i] = p.factor
		}
		mean := computeMean(values)
		std := computeStddev(values, mean)

		var ret float64
		for _, p := range ds.pairs {
			w := sign((p.factor - mean) / (std + irEpsilon))
			ret += w * p.label
		}
		daily = append(daily, ret/float64(len(ds.pairs)))
	}

	res := LongShortResult{Daily: daily}
	if len(daily) == 0 {
		return res
	}
	mean := computeMean(daily)
	res.AnnualReturn = mean * TradingDaysPerYear
	res.MaxDrawdown = computeMaxDrawdown(daily)
	if std := computeStddev(daily, mean); std > 0 {
		res.Sharpe = mean / std * math.Sqrt(TradingDaysPerYear)
	}
	return res
}

// LongShortBacktester adapts LongShort to the Backtester interface.
type LongShortBacktester struct{}

// Backtest implements Backtester.
func (LongShortBacktester) Backtest(factor, label []*domain.FactorPoint) (map[string]float64, error) {
	return LongShort(factor, label).Metrics(), nil
}

var _ Backtester = LongShortBacktester{}
