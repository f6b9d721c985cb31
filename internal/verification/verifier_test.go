package verification

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/expr"
	"factor-lab/internal/observability"
	"factor-lab/internal/source"
)

var universe = []string{"AAA", "BBB", "CCC"}

func day(i int) time.Time {
	return domain.Day(2024, time.January, 1).AddDate(0, 0, i)
}

func pt(d int, symbol string, v float64) *domain.FactorPoint {
	return &domain.FactorPoint{Date: day(d), Symbol: symbol, Value: v}
}

func TestCompareTables_Identical(t *testing.T) {
	a := []*domain.FactorPoint{pt(0, "AAA", 1), pt(0, "BBB", 2), pt(1, "AAA", 3)}
	assert.Empty(t, CompareTables(a, domain.ClonePoints(a), ExactTolerance))
}

func TestCompareTables_Divergences(t *testing.T) {
	expected := []*domain.FactorPoint{pt(0, "AAA", 1), pt(0, "BBB", 2), pt(1, "AAA", 3)}
	actual := []*domain.FactorPoint{pt(0, "AAA", 1), pt(1, "AAA", 3.5), pt(1, "CCC", 4)}

	got := CompareTables(expected, actual, ExactTolerance)
	require.Len(t, got, 3)

	assert.Equal(t, DivergenceMissing, got[0].Kind)
	assert.Equal(t, "BBB", got[0].Symbol)
	assert.Equal(t, 2.0, got[0].Expected)
	assert.True(t, math.IsNaN(got[0].Actual))

	assert.Equal(t, DivergenceValue, got[1].Kind)
	assert.Equal(t, "2024-01-02T00:00:00Z", got[1].Date)
	assert.Equal(t, 3.0, got[1].Expected)
	assert.Equal(t, 3.5, got[1].Actual)

	assert.Equal(t, DivergenceExtra, got[2].Kind)
	assert.Equal(t, "CCC", got[2].Symbol)
}

func TestCompareTables_Tolerance(t *testing.T) {
	a := []*domain.FactorPoint{pt(0, "AAA", 0.1 + 0.2)}
	b := []*domain.FactorPoint{pt(0, "AAA", 0.3)}

	assert.Len(t, CompareTables(a, b, ExactTolerance), 1)
	assert.Empty(t, CompareTables(a, b, 1e-12))
}

func newChecker(panel *domain.Panel) *Checker {
	return NewChecker(CheckerOptions{
		Source:       source.NewAdapter(source.Options{Loader: source.PanelLoader(panel)}),
		NewEvaluator: func() engine.Evaluator { return expr.NewEvaluator(nil) },
		EngineOpts: []engine.Option{
			engine.WithMetrics(observability.NewMetricsWith(prometheus.NewRegistry(), "test")),
		},
	})
}

func fixture() *domain.Panel {
	return source.Synthetic(source.SyntheticOptions{
		Universe: universe,
		Start:    day(0),
		Periods:  20,
		Freq:     domain.FrequencyDaily,
		Seed:     11,
	})
}

func spec(name string, lookback int, blocks ...domain.TransformBlock) *domain.FactorSpec {
	return &domain.FactorSpec{
		Name:     name,
		Freq:     domain.FrequencyDaily,
		Inputs:   []string{"close"},
		Blocks:   blocks,
		Output:   "alpha",
		Lookback: lookback,
	}
}

func modes(r *Report) map[engine.Mode]ModeResult {
	out := make(map[engine.Mode]ModeResult)
	for _, m := range r.Results {
		out[m.Mode] = m
	}
	return out
}

func TestChecker_AllModesAgree(t *testing.T) {
	px := expr.Col("close")
	s := spec("ma_diff", 5, expr.Assign("alpha", expr.Sub(expr.TsMean(px, 5), expr.TsMean(px, 3))))

	report, err := newChecker(fixture()).Check(context.Background(), s, universe, day(0), day(19))
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 3*16, report.FullRows)
	for _, m := range report.Results {
		assert.True(t, m.Match, "mode %s: %s", m.Mode, m.Reason)
		assert.Equal(t, report.FullRows, m.Rows)
	}
}

func TestChecker_UnboundedSkipsChunkedModes(t *testing.T) {
	s := spec("cum", 5, expr.Assign("alpha", expr.TsCumSum(expr.Col("close"))))

	report, err := newChecker(fixture()).Check(context.Background(), s, universe, day(0), day(19))
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Matched)

	m := modes(report)
	assert.True(t, m[engine.ModeIncremental].Skipped)
	assert.True(t, m[engine.ModeByDate].Skipped)
	assert.True(t, m[engine.ModeByCode].Match)
}

func TestChecker_CrossSectionalSkipsByCode(t *testing.T) {
	s := spec("rank", 0, expr.Assign("alpha", expr.CsRank(expr.Col("close"))))

	report, err := newChecker(fixture()).Check(context.Background(), s, universe, day(0), day(19))
	require.NoError(t, err)

	m := modes(report)
	assert.True(t, m[engine.ModeIncremental].Match)
	assert.True(t, m[engine.ModeByDate].Match)
	assert.True(t, m[engine.ModeByCode].Skipped)
	assert.True(t, report.OK())
}

func TestChecker_OpaqueBlockRunsByCode(t *testing.T) {
	running := expr.Func("running_sum", []string{"close"}, "alpha", func(p *domain.Panel) ([]float64, error) {
		out := make([]float64, len(p.Rows))
		sums := make(map[string]float64)
		for i, r := range p.Rows {
			sums[r.Symbol] += r.Get("close")
			out[i] = sums[r.Symbol]
		}
		return out, nil
	})
	s := spec("running_sum", 5, running)

	report, err := newChecker(fixture()).Check(context.Background(), s, universe, day(0), day(19))
	require.NoError(t, err)

	m := modes(report)
	assert.True(t, m[engine.ModeByDate].Skipped)
	assert.True(t, m[engine.ModeByCode].Match)
	// Incremental trusts the lookback and loses the older history
	assert.False(t, m[engine.ModeIncremental].Match)
	assert.False(t, report.OK())
}

func TestChecker_DetectsFalseDeclaration(t *testing.T) {
	// Declares no history but numbers each entity's rows from the start of
	// the fetched panel, so any partition by date shifts its values.
	counter := expr.Func("row_number", []string{"close"}, "alpha", func(p *domain.Panel) ([]float64, error) {
		out := make([]float64, len(p.Rows))
		n := 0
		for i, r := range p.Rows {
			if i > 0 && r.Symbol != p.Rows[i-1].Symbol {
				n = 0
			}
			n++
			out[i] = float64(n)
		}
		return out, nil
	})
	s := spec("row_number", 5, expr.Declare(counter, domain.Window{}))

	report, err := newChecker(fixture()).Check(context.Background(), s, universe, day(0), day(19))
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Equal(t, 2, report.Divergent)

	m := modes(report)
	assert.False(t, m[engine.ModeByDate].Match)
	assert.NotEmpty(t, m[engine.ModeByDate].Divergences)
	assert.Equal(t, DivergenceValue, m[engine.ModeByDate].Divergences[0].Kind)
	assert.True(t, m[engine.ModeByCode].Match)
}

func TestChecker_FullFailure(t *testing.T) {
	s := spec("bad", 0)
	_, err := newChecker(fixture()).Check(context.Background(), s, universe, day(0), day(19))
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)
}

func TestRowDivergence_JSONNullsNaN(t *testing.T) {
	d := RowDivergence{Kind: DivergenceMissing, Date: "2024-01-01T00:00:00Z", Symbol: "AAA", Expected: 1.5, Actual: math.NaN()}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"missing","date":"2024-01-01T00:00:00Z","symbol":"AAA","expected":1.5,"actual":null}`, string(data))
}
