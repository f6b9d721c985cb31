package decision

import (
	"fmt"
	"math"
)

// Evaluator evaluates decision criteria.
type Evaluator struct {
	t Thresholds
}

// NewEvaluator creates a decision evaluator with DefaultThresholds.
func NewEvaluator() *Evaluator {
	return &Evaluator{t: DefaultThresholds}
}

// NewEvaluatorWith creates a decision evaluator with custom thresholds.
func NewEvaluatorWith(t Thresholds) *Evaluator {
	return &Evaluator{t: t}
}

// Evaluate produces DecisionResult from DecisionInput.
// GO if ALL criteria pass and NO NO-GO triggers.
// NO-GO if ANY criterion fails or ANY trigger fires.
// NaN metrics fail every comparison.
func (e *Evaluator) Evaluate(input DecisionInput) (*DecisionResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	goCriteria := e.evaluateGOCriteria(input)
	nogoChecks := e.evaluateNOGOTriggers(input)

	decision := DecisionGO
	for _, c := range append(append([]CriterionResult(nil), goCriteria...), nogoChecks...) {
		if !c.Pass {
			decision = DecisionNOGO
			break
		}
	}

	return &DecisionResult{
		Factor:     input.Factor,
		RunID:      input.RunID,
		Decision:   decision,
		GOCriteria: goCriteria,
		NOGOChecks: nogoChecks,
	}, nil
}

// evaluateGOCriteria evaluates the 5 GO criteria.
func (e *Evaluator) evaluateGOCriteria(input DecisionInput) []CriterionResult {
	criteria := make([]CriterionResult, 5)

	// 1. Mean IC
	criteria[0] = CriterionResult{
		Name:      "Predictive IC",
		Threshold: fmt.Sprintf(">= %.4f", e.t.MinIC),
		Actual:    fmt.Sprintf("%.4f", input.ICMean),
		Pass:      input.ICMean >= e.t.MinIC,
	}

	// 2. IC stability
	criteria[1] = CriterionResult{
		Name:      "Stable IC (IR)",
		Threshold: fmt.Sprintf(">= %.2f", e.t.MinIR),
		Actual:    fmt.Sprintf("%.4f", input.IR),
		Pass:      input.IR >= e.t.MinIR,
	}

	// 3. Label coverage
	criteria[2] = CriterionResult{
		Name:      "Label coverage",
		Threshold: fmt.Sprintf(">= %.0f%%", e.t.MinCoverage*100),
		Actual:    fmt.Sprintf("%.2f%%", input.Coverage*100),
		Pass:      input.Coverage >= e.t.MinCoverage,
	}

	// 4. Enough dates
	criteria[3] = CriterionResult{
		Name:      "Sufficient IC days",
		Threshold: fmt.Sprintf(">= %d", e.t.MinICDays),
		Actual:    fmt.Sprintf("%d", input.ICDays),
		Pass:      input.ICDays >= e.t.MinICDays,
	}

	// 5. Mode equivalence; unchecked counts as pass
	actual := "not checked"
	pass := true
	if input.Reproducible != nil {
		actual = fmt.Sprintf("%t", *input.Reproducible)
		pass = *input.Reproducible
	}
	criteria[4] = CriterionResult{
		Name:      "Reproducible across modes",
		Threshold: "true",
		Actual:    actual,
		Pass:      pass,
	}

	return criteria
}

// evaluateNOGOTriggers evaluates the 4 NO-GO triggers.
// Pass=true means NOT triggered, Pass=false means triggered.
func (e *Evaluator) evaluateNOGOTriggers(input DecisionInput) []CriterionResult {
	checks := make([]CriterionResult, 4)

	// 1. IC <= 0 (or undefined) triggers NO-GO
	checks[0] = CriterionResult{
		Name:      "No or inverted signal",
		Threshold: "IC <= 0",
		Actual:    fmt.Sprintf("%.4f", input.ICMean),
		Pass:      input.ICMean > 0,
	}

	// 2. Losing long-short portfolio triggers NO-GO
	checks[1] = CriterionResult{
		Name:      "Losing long-short",
		Threshold: "ret_annual <= 0",
		Actual:    fmt.Sprintf("%.4f", input.AnnualReturn),
		Pass:      input.AnnualReturn > 0,
	}

	// 3. Deep drawdown triggers NO-GO
	checks[2] = CriterionResult{
		Name:      "Deep drawdown",
		Threshold: fmt.Sprintf("max_drawdown > %.2f", e.t.MaxDrawdown),
		Actual:    fmt.Sprintf("%.4f", input.MaxDrawdown),
		Pass:      !math.IsNaN(input.MaxDrawdown) && input.MaxDrawdown <= e.t.MaxDrawdown,
	}

	// 4. Divergent computation modes trigger NO-GO
	triggered := input.Reproducible != nil && !*input.Reproducible
	actual := "not checked"
	if input.Reproducible != nil {
		actual = fmt.Sprintf("%t", *input.Reproducible)
	}
	checks[3] = CriterionResult{
		Name:      "Divergent computation modes",
		Threshold: "reproducible == false",
		Actual:    actual,
		Pass:      !triggered,
	}

	return checks
}
