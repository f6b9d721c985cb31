package label

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
)

func pricePanel(closes map[string][]float64) *domain.Panel {
	p := domain.NewPanel(ColumnClose)
	start := domain.Day(2024, time.January, 1)
	for symbol, series := range closes {
		for i, c := range series {
			p.Append(start.AddDate(0, 0, i), symbol, map[string]float64{ColumnClose: c})
		}
	}
	return p
}

func TestForwardReturn(t *testing.T) {
	p := pricePanel(map[string][]float64{
		"AAA": {10, 11, 12, 15},
		"BBB": {20, 20, 10, 30},
	})

	got, err := ForwardReturn(p, 2)
	require.NoError(t, err)
	require.Len(t, got, 4)

	d0 := domain.Day(2024, time.January, 1)
	assert.Equal(t, d0, got[0].Date)
	assert.Equal(t, "AAA", got[0].Symbol)
	assert.InDelta(t, 0.2, got[0].Value, 1e-12)
	assert.Equal(t, "BBB", got[1].Symbol)
	assert.InDelta(t, -0.5, got[1].Value, 1e-12)
	assert.InDelta(t, 15.0/11-1, got[2].Value, 1e-12)
	assert.InDelta(t, 0.5, got[3].Value, 1e-12)
}

func TestForwardReturn_DropsUndefined(t *testing.T) {
	p := pricePanel(map[string][]float64{
		"AAA": {10, domain.Null, 12, 0, 5},
	})

	got, err := ForwardReturn(p, 1)
	require.NoError(t, err)

	// 10->NaN, NaN->12, 12->0 (=-1), 0->5 (base zero)
	require.Len(t, got, 1)
	assert.InDelta(t, -1.0, got[0].Value, 1e-12)
}

func TestForwardReturn_UnsortedInput(t *testing.T) {
	p := domain.NewPanel(ColumnClose)
	d := domain.Day(2024, time.March, 1)
	p.Append(d.AddDate(0, 0, 1), "AAA", map[string]float64{ColumnClose: 4})
	p.Append(d, "AAA", map[string]float64{ColumnClose: 2})

	got, err := ForwardReturn(p, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d, got[0].Date)
	assert.InDelta(t, 1.0, got[0].Value, 1e-12)
}

func TestForwardReturn_Errors(t *testing.T) {
	_, err := ForwardReturn(domain.NewPanel("open"), 1)
	assert.ErrorIs(t, err, ErrMissingClose)

	_, err = ForwardReturn(pricePanel(nil), 0)
	assert.ErrorIs(t, err, ErrInvalidHorizon)
}

func TestForwardReturn_ShortSeries(t *testing.T) {
	got, err := ForwardReturn(pricePanel(map[string][]float64{"AAA": {1, 2}}), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
