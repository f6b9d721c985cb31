package expr

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
)

// series builds an "asset"-keyed panel with one close column per symbol.
func series(closes map[string][]float64) *domain.Panel {
	p := domain.NewPanel("close")
	p.EntityKey = EntityKey
	for symbol, values := range closes {
		for i, v := range values {
			p.Append(domain.Day(2024, 1, 1+i), symbol, map[string]float64{"close": v})
		}
	}
	return p
}

func valuesOf(p *domain.Panel, symbol, column string) []float64 {
	var out []float64
	for _, r := range p.Rows {
		if r.Symbol == symbol {
			out = append(out, r.Get(column))
		}
	}
	return out
}

func assertSeries(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "index %d: want NaN, got %v", i, got[i])
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-12, "index %d", i)
	}
}

var nan = math.NaN()

func TestWindowDeclarations(t *testing.T) {
	px := Col("close")

	assert.Equal(t, domain.Window{}, px.Window())
	assert.Equal(t, 4, TsMean(px, 5).Window().Depth)
	assert.Equal(t, 2, TsDelay(px, 2).Window().Depth)

	// Siblings take the max, nesting adds
	maDiff := Sub(TsMean(px, 5), TsMean(px, 3))
	assert.Equal(t, 4, maDiff.Window().Depth)
	assert.Equal(t, 5, TsMean(TsDelta(px, 1), 5).Window().Depth)

	assert.True(t, TsCumSum(px).Window().Unbounded)
	assert.True(t, CsRank(TsMean(px, 3)).Window().CrossSectional)
	assert.Equal(t, 2, CsRank(TsMean(px, 3)).Window().Depth)
}

func TestEvaluate_TimeSeriesOps(t *testing.T) {
	panel := series(map[string][]float64{"AAA": {1, 2, 3, 4, 5}})
	px := Col("close")

	blocks := []domain.TransformBlock{
		Assign("ma3", TsMean(px, 3)),
		Assign("sum2", TsSum(px, 2)),
		Assign("lag1", TsDelay(px, 1)),
		Assign("d2", TsDelta(px, 2)),
		Assign("cum", TsCumSum(px)),
		Assign("std3", TsStd(px, 3)),
		Assign("chained", Mul(Col("ma3"), Const(2))),
	}

	out, err := NewEvaluator(nil).Evaluate(context.Background(), panel, blocks)
	require.NoError(t, err)

	assertSeries(t, []float64{nan, nan, 2, 3, 4}, valuesOf(out, "AAA", "ma3"))
	assertSeries(t, []float64{nan, 3, 5, 7, 9}, valuesOf(out, "AAA", "sum2"))
	assertSeries(t, []float64{nan, 1, 2, 3, 4}, valuesOf(out, "AAA", "lag1"))
	assertSeries(t, []float64{nan, nan, 2, 2, 2}, valuesOf(out, "AAA", "d2"))
	assertSeries(t, []float64{1, 3, 6, 10, 15}, valuesOf(out, "AAA", "cum"))
	assertSeries(t, []float64{nan, nan, 1, 1, 1}, valuesOf(out, "AAA", "std3"))
	assertSeries(t, []float64{nan, nan, 4, 6, 8}, valuesOf(out, "AAA", "chained"))
}

func TestEvaluate_WindowsStayWithinEntity(t *testing.T) {
	panel := series(map[string][]float64{
		"AAA": {1, 2, 3},
		"BBB": {10, 20, 30},
	})

	out, err := NewEvaluator(nil).Evaluate(context.Background(), panel, []domain.TransformBlock{
		Assign("ma2", TsMean(Col("close"), 2)),
	})
	require.NoError(t, err)

	assertSeries(t, []float64{nan, 1.5, 2.5}, valuesOf(out, "AAA", "ma2"))
	assertSeries(t, []float64{nan, 15, 25}, valuesOf(out, "BBB", "ma2"))
}

func TestEvaluate_NullPropagates(t *testing.T) {
	panel := series(map[string][]float64{"AAA": {1, nan, 3, 4, 5}})

	out, err := NewEvaluator(nil).Evaluate(context.Background(), panel, []domain.TransformBlock{
		Assign("ma2", TsMean(Col("close"), 2)),
		Assign("ratio", Div(Col("close"), Const(0))),
	})
	require.NoError(t, err)

	assertSeries(t, []float64{nan, nan, nan, 3.5, 4.5}, valuesOf(out, "AAA", "ma2"))
	for _, v := range valuesOf(out, "AAA", "ratio") {
		assert.True(t, domain.IsNull(v))
	}
}

func TestEvaluate_CrossSectionalOps(t *testing.T) {
	panel := series(map[string][]float64{
		"AAA": {1},
		"BBB": {3},
		"CCC": {3},
		"DDD": {nan},
	})

	out, err := NewEvaluator(nil).Evaluate(context.Background(), panel, []domain.TransformBlock{
		Assign("rank", CsRank(Col("close"))),
		Assign("z", CsZScore(Col("close"))),
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0/3, valuesOf(out, "AAA", "rank")[0], 1e-12)
	assert.InDelta(t, 2.5/3, valuesOf(out, "BBB", "rank")[0], 1e-12)
	assert.InDelta(t, 2.5/3, valuesOf(out, "CCC", "rank")[0], 1e-12)
	assert.True(t, math.IsNaN(valuesOf(out, "DDD", "rank")[0]))

	// mean 7/3, sample std sqrt(4/3)
	std := math.Sqrt(4.0 / 3)
	assert.InDelta(t, (1-7.0/3)/std, valuesOf(out, "AAA", "z")[0], 1e-12)
}

func TestEvaluate_ResultIndependentOfHistoryStart(t *testing.T) {
	closes := []float64{1.1, 2.3, 0.7, 4.9, 5.2, 3.3, 8.1, 2.2, 6.6, 7.7}
	full := series(map[string][]float64{"AAA": closes})

	// Same series with the first four observations dropped
	tail := full.Filter(func(r *domain.PanelRow) bool { return !r.Date.Before(domain.Day(2024, 1, 5)) })
	tail.EntityKey = EntityKey

	node := Sub(TsMean(Col("close"), 5), TsMean(Col("close"), 3))
	blocks := []domain.TransformBlock{Assign("f", node)}

	e := NewEvaluator(nil)
	a, err := e.Evaluate(context.Background(), full, blocks)
	require.NoError(t, err)
	b, err := e.Evaluate(context.Background(), tail, blocks)
	require.NoError(t, err)

	fa, fb := valuesOf(a, "AAA", "f"), valuesOf(b, "AAA", "f")
	// Last two dates have at least four prior rows in both runs
	for i := 1; i <= 2; i++ {
		if fa[len(fa)-i] != fb[len(fb)-i] {
			t.Errorf("value %d from the end differs: %v vs %v", i, fa[len(fa)-i], fb[len(fb)-i])
		}
	}
}

func TestEvaluate_Errors(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()

	wrongKey := domain.NewPanel("close")
	_, err := e.Evaluate(ctx, wrongKey, nil)
	assert.ErrorIs(t, err, ErrEntityKey)

	_, err = e.Evaluate(ctx, series(map[string][]float64{"AAA": {1}}), []domain.TransformBlock{
		Assign("x", Col("volume")),
	})
	assert.ErrorIs(t, err, ErrMissingColumn)

	dup := series(map[string][]float64{"AAA": {1}})
	dup.Append(domain.Day(2024, 1, 1), "AAA", map[string]float64{"close": 2})
	_, err = e.Evaluate(ctx, dup, nil)
	assert.ErrorIs(t, err, ErrDuplicateRow)

	_, err = e.Evaluate(ctx, series(map[string][]float64{"AAA": {1}}), []domain.TransformBlock{
		Assign("x", TsMean(Col("close"), 0)),
	})
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestInspect(t *testing.T) {
	e := NewEvaluator(nil)

	w, err := e.Inspect(Assign("f", TsMean(Col("close"), 5)))
	require.NoError(t, err)
	assert.Equal(t, 4, w.Depth)

	opaque := Func("custom", []string{"close"}, "f", func(p *domain.Panel) ([]float64, error) {
		return make([]float64, len(p.Rows)), nil
	})
	_, err = e.Inspect(opaque)
	if !errors.Is(err, ErrNotIntrospectable) {
		t.Errorf("Expected ErrNotIntrospectable, got %v", err)
	}

	w, err = e.Inspect(Declare(opaque, domain.Window{Depth: 2}))
	require.NoError(t, err)
	assert.Equal(t, 2, w.Depth)
}

func TestEvaluate_FuncBlock(t *testing.T) {
	double := Func("double", []string{"close"}, "x2", func(p *domain.Panel) ([]float64, error) {
		out := make([]float64, len(p.Rows))
		for i, r := range p.Rows {
			out[i] = 2 * r.Get("close")
		}
		return out, nil
	})

	out, err := NewEvaluator(nil).Evaluate(context.Background(),
		series(map[string][]float64{"AAA": {1, 2}}),
		[]domain.TransformBlock{Declare(double, domain.Window{})})
	require.NoError(t, err)
	assertSeries(t, []float64{2, 4}, valuesOf(out, "AAA", "x2"))
}

func TestParseNode(t *testing.T) {
	node, err := ParseNode([]byte(`
op: sub
args:
  - {op: ts_mean, window: 5, args: [{col: close}]}
  - {op: ts_mean, window: 3, args: [{col: close}]}
`))
	require.NoError(t, err)
	assert.Equal(t, "sub(ts_mean(col(close),5),ts_mean(col(close),3))", node.String())
	assert.Equal(t, 4, node.Window().Depth)
	assert.Equal(t, []string{"close"}, node.Columns())

	_, err = ParseNode([]byte(`{op: ts_magic, args: [{col: close}]}`))
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = ParseNode([]byte(`{op: add, args: [{col: close}]}`))
	assert.ErrorIs(t, err, ErrInvalidNode)
}
