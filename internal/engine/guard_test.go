package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/expr"
)

func specOf(lookback int, blocks ...domain.TransformBlock) *domain.FactorSpec {
	return &domain.FactorSpec{
		Name:     "chain",
		Freq:     domain.FrequencyDaily,
		Inputs:   []string{"close"},
		Blocks:   blocks,
		Output:   blocks[len(blocks)-1].Output(),
		Lookback: lookback,
	}
}

func TestEffectiveWindows_AddsProducerDepth(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	spec := specOf(10,
		expr.Assign("ma", expr.TsMean(expr.Col("close"), 5)),
		expr.Assign("chg", expr.TsDelta(expr.Col("ma"), 4)),
		expr.Assign("alpha", expr.Sub(expr.Col("chg"), expr.TsDelta(expr.Col("close"), 1))),
	)

	got := EffectiveWindows(ev, spec)
	require.Len(t, got, 3)
	assert.Equal(t, 4, got[0].Window.Depth)
	assert.Equal(t, 8, got[1].Window.Depth)
	// own depth 1 on top of the deepest producer
	assert.Equal(t, 9, got[2].Window.Depth)
	for _, bw := range got {
		assert.True(t, bw.Known)
	}

	require.NoError(t, CheckWindowSafe(ev, spec))
	spec.Lookback = 8
	assert.ErrorIs(t, CheckWindowSafe(ev, spec), ErrUnsafeChunking)
	_, err := checkIncremental(ev, spec)
	assert.ErrorIs(t, err, ErrUnsafeIncremental)
}

func TestEffectiveWindows_PropagatesFlags(t *testing.T) {
	ev := expr.NewEvaluator(nil)

	spec := specOf(5,
		expr.Assign("cum", expr.TsCumSum(expr.Col("close"))),
		expr.Assign("alpha", expr.TsDelta(expr.Col("cum"), 1)),
	)
	got := EffectiveWindows(ev, spec)
	assert.True(t, got[1].Window.Unbounded)

	spec = specOf(5,
		expr.Assign("rank", expr.CsRank(expr.Col("close"))),
		expr.Assign("alpha", expr.TsMean(expr.Col("rank"), 3)),
	)
	got = EffectiveWindows(ev, spec)
	assert.True(t, got[1].Window.CrossSectional)
	_, err := CheckBatchSafe(ev, spec)
	assert.ErrorIs(t, err, ErrUnsafeBatching)
}

func TestEffectiveWindows_OpaqueProducer(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	spec := specOf(5,
		runningSum(),
		expr.Assign("smooth", expr.TsMean(expr.Col("alpha"), 3)),
	)

	got := EffectiveWindows(ev, spec)
	assert.False(t, got[0].Known)
	assert.ErrorIs(t, got[0].Err, expr.ErrNotIntrospectable)
	assert.False(t, got[1].Known, "a block reading an opaque column is not verified")

	assert.ErrorIs(t, CheckWindowSafe(ev, spec), ErrUnsafeChunking)

	ok, err := CheckBatchSafe(ev, spec)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = checkIncremental(ev, spec)
	require.NoError(t, err)
	assert.False(t, ok)
}
