package idhash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"factor-lab/internal/domain"
	"factor-lab/internal/expr"
)

func testSpec() *domain.FactorSpec {
	return &domain.FactorSpec{
		Name:   "ma_diff",
		Freq:   domain.FrequencyDaily,
		Inputs: []string{"close"},
		Blocks: []domain.TransformBlock{
			expr.Assign("ma5", expr.TsMean(expr.Col("close"), 5)),
			expr.Assign("ma3", expr.TsMean(expr.Col("close"), 3)),
			expr.Assign("factor", expr.Sub(expr.Col("ma5"), expr.Col("ma3"))),
		},
		Output:   "factor",
		Lookback: 5,
		Lag:      1,
	}
}

func TestComputeSpecHash(t *testing.T) {
	got := ComputeSpecHash(testSpec())
	assert.Len(t, got, 64)
	assert.Equal(t, got, ComputeSpecHash(testSpec()), "hash must be deterministic")

	tests := []struct {
		name   string
		mutate func(*domain.FactorSpec)
	}{
		{"name", func(s *domain.FactorSpec) { s.Name = "other" }},
		{"freq", func(s *domain.FactorSpec) { s.Freq = domain.FrequencyHourly }},
		{"lookback", func(s *domain.FactorSpec) { s.Lookback = 6 }},
		{"lag", func(s *domain.FactorSpec) { s.Lag = 0 }},
		{"output", func(s *domain.FactorSpec) { s.Output = "ma5" }},
		{"block window", func(s *domain.FactorSpec) {
			s.Blocks[1] = expr.Assign("ma3", expr.TsMean(expr.Col("close"), 4))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSpec()
			tt.mutate(s)
			assert.NotEqual(t, got, ComputeSpecHash(s))
		})
	}
}

func TestShort(t *testing.T) {
	full := ComputeSpecHash(testSpec())
	short := Short(full)
	assert.NotEmpty(t, short)
	assert.LessOrEqual(t, len(short), 11)
	assert.Equal(t, short, Short(full))
	assert.NotEqual(t, short, Short(ComputeDataHash(nil)+"x"))
	assert.NotEmpty(t, Short("not-hex"))
}

func TestComputeDataHash(t *testing.T) {
	assert.Equal(t, EmptyDataHash, ComputeDataHash(nil))

	d := domain.Day(2024, time.January, 2)
	a := []*domain.FactorPoint{{Date: d, Symbol: "AAA", Value: 1.5}}
	b := []*domain.FactorPoint{{Date: d, Symbol: "AAA", Value: 1.5000001}}

	assert.Len(t, ComputeDataHash(a), 64)
	assert.Equal(t, ComputeDataHash(a), ComputeDataHash(domain.ClonePoints(a)))
	assert.NotEqual(t, ComputeDataHash(a), ComputeDataHash(b))
}

func TestComputeDataHash_BoundedRows(t *testing.T) {
	d := domain.Day(2024, time.January, 1)
	points := make([]*domain.FactorPoint, DataHashRows+1)
	for i := range points {
		points[i] = &domain.FactorPoint{Date: d, Symbol: "S", Value: float64(i)}
	}
	tail := domain.ClonePoints(points)
	tail[DataHashRows].Value = -1

	assert.Equal(t, ComputeDataHash(points), ComputeDataHash(tail))
}
