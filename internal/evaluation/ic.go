package evaluation

import "factor-lab/internal/domain"

// ICResult summarises the information coefficient of a factor.
type ICResult struct {
	Mean     float64 // mean of per-date correlations
	IR       float64 // Mean / stddev of per-date correlations
	Coverage float64 // joined rows / factor rows
	Days     int     // dates with a defined correlation
}

// Metrics returns the result keyed by metric name.
func (r ICResult) Metrics() map[string]float64 {
	return map[string]float64{
		MetricIC:       r.Mean,
		MetricIR:       r.IR,
		MetricCoverage: r.Coverage,
		MetricICDays:   float64(r.Days),
	}
}

// IC computes the per-date Pearson correlation between factor and label.
// Dates with fewer than two joined rows or a constant side are skipped.
// IR is zero unless at least two dates contribute.
func IC(factor, label []*domain.FactorPoint) ICResult {
	slices, joined := join(factor, label)
	if joined == 0 {
		return ICResult{}
	}

	ics := make([]float64, 0, len(slices))
	for _, ds := range slices {
		x := make([]float64, len(ds.pairs))
		y := make([]float64, len(ds.pairs))
		for i, p := range ds.pairs {
			x[i], y[i] = p.factor, p.label
		}
		if r, ok := computePearson(x, y); ok {
			ics = append(ics, r)
		}
	}

	res := ICResult{
		Mean:     computeMean(ics),
		Coverage: float64(joined) / float64(max(1, len(factor))),
		Days:     len(ics),
	}
	if len(ics) > 1 {
		res.IR = res.Mean / (computeStddev(ics, res.Mean) + irEpsilon)
	}
	return res
}

// ICEvaluator adapts IC to the Evaluator interface.
type ICEvaluator struct{}

// Evaluate implements Evaluator.
func (ICEvaluator) Evaluate(factor, label []*domain.FactorPoint) (map[string]float64, error) {
	return IC(factor, label).Metrics(), nil
}

var _ Evaluator = ICEvaluator{}
