package decision

import (
	"errors"
	"fmt"
	"math"
)

// Decision represents the final GO/NO-GO result.
type Decision string

const (
	DecisionGO   Decision = "GO"
	DecisionNOGO Decision = "NO-GO"
)

// DecisionInput contains the numeric metrics of one factor run.
type DecisionInput struct {
	Factor string
	RunID  string // optional, for the report header

	// Information coefficient (per-date Pearson, averaged)
	ICMean   float64
	IR       float64
	Coverage float64 // joined rows / factor rows
	ICDays   int

	// Long-short backtest
	AnnualReturn float64
	MaxDrawdown  float64 // positive, on cumulative daily returns

	// Reproducible is nil when mode equivalence was not checked.
	Reproducible *bool
}

// ErrInvalidInput is returned by Validate.
var ErrInvalidInput = errors.New("invalid decision input")

// Validate checks that the input can be evaluated.
func (in *DecisionInput) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: nil input", ErrInvalidInput)
	}
	if in.Factor == "" {
		return fmt.Errorf("%w: factor is required", ErrInvalidInput)
	}
	for name, v := range map[string]float64{
		"IC": in.ICMean, "IR": in.IR, "coverage": in.Coverage,
		"ret_annual": in.AnnualReturn, "max_drawdown": in.MaxDrawdown,
	} {
		if math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is infinite", ErrInvalidInput, name)
		}
	}
	return nil
}

// Thresholds parameterise the gate.
type Thresholds struct {
	MinIC       float64
	MinIR       float64
	MinCoverage float64
	MinICDays   int
	MaxDrawdown float64 // NO-GO above this
}

// DefaultThresholds are the thresholds used by NewEvaluator.
var DefaultThresholds = Thresholds{
	MinIC:       0.02,
	MinIR:       0.1,
	MinCoverage: 0.8,
	MinICDays:   20,
	MaxDrawdown: 0.5,
}

// CriterionResult represents pass/fail for one criterion.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DecisionResult contains the final decision with checklist.
type DecisionResult struct {
	Factor     string
	RunID      string
	Decision   Decision
	GOCriteria []CriterionResult // 5 GO criteria
	NOGOChecks []CriterionResult // 4 NO-GO triggers
}
