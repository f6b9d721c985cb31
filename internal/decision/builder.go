package decision

import (
	"math"

	"factor-lab/internal/evaluation"
	"factor-lab/internal/verification"
)

// InputFromMetrics builds DecisionInput from a run's metric map as logged by
// the orchestrator. Missing metrics are NaN and fail their criteria. A nil
// report leaves reproducibility unchecked.
func InputFromMetrics(factor, runID string, metrics map[string]float64, report *verification.Report) DecisionInput {
	get := func(k string) float64 {
		if v, ok := metrics[k]; ok {
			return v
		}
		return math.NaN()
	}

	in := DecisionInput{
		Factor:       factor,
		RunID:        runID,
		ICMean:       get(evaluation.MetricIC),
		IR:           get(evaluation.MetricIR),
		Coverage:     get(evaluation.MetricCoverage),
		AnnualReturn: get(evaluation.MetricAnnualRet),
		MaxDrawdown:  get(evaluation.MetricMaxDrawdown),
	}
	if days, ok := metrics[evaluation.MetricICDays]; ok && !math.IsNaN(days) {
		in.ICDays = int(days)
	}
	if report != nil {
		ok := report.OK()
		in.Reproducible = &ok
	}
	return in
}
