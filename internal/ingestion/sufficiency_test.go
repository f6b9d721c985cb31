package ingestion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
)

func sufficientBars(symbols []string, periods int) []domain.Bar {
	var bars []domain.Bar
	for i := 0; i < periods; i++ {
		d := domain.Day(2024, time.January, 1+i)
		for _, s := range symbols {
			bars = append(bars, domain.Bar{Date: d, Symbol: s, Field: "close", Value: float64(10 + i)})
		}
	}
	return bars
}

func checkByName(t *testing.T, r *SufficiencyResult, name string) SufficiencyCheck {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return SufficiencyCheck{}
}

func TestCheckSufficiency_AllPass(t *testing.T) {
	bars := sufficientBars([]string{"AAA", "BBB"}, 30)

	r := CheckSufficiency(bars, SufficiencyRequirements{
		Universe:   []string{"AAA", "BBB"},
		Fields:     []string{"close"},
		MinPeriods: 20,
	})

	require.Len(t, r.Checks, 6)
	assert.True(t, r.AllPass)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "6/6 checks passed", r.Summary())
	assert.Equal(t, "30 periods", checkByName(t, r, "History length").Actual)
}

func TestCheckSufficiency_Failures(t *testing.T) {
	tests := []struct {
		name   string
		bars   func() []domain.Bar
		req    SufficiencyRequirements
		failed string
		errors int
	}{
		{
			name:   "missing symbol",
			bars:   func() []domain.Bar { return sufficientBars([]string{"AAA"}, 10) },
			req:    SufficiencyRequirements{Universe: []string{"AAA", "ZZZ"}},
			failed: "Universe coverage",
			errors: 1,
		},
		{
			name:   "missing field",
			bars:   func() []domain.Bar { return sufficientBars([]string{"AAA", "BBB"}, 10) },
			req:    SufficiencyRequirements{Fields: []string{"close", "volume"}},
			failed: "Field coverage",
			errors: 2,
		},
		{
			name:   "short history",
			bars:   func() []domain.Bar { return sufficientBars([]string{"AAA"}, 5) },
			req:    SufficiencyRequirements{MinPeriods: 6},
			failed: "History length",
		},
		{
			name: "duplicate bar",
			bars: func() []domain.Bar {
				bars := sufficientBars([]string{"AAA"}, 5)
				return append(bars, bars[2])
			},
			failed: "Duplicate bars",
			errors: 1,
		},
		{
			name: "calendar gaps",
			bars: func() []domain.Bar {
				// BBB only has the first 5 of 10 periods: 25% missing
				return append(sufficientBars([]string{"AAA"}, 10), sufficientBars([]string{"BBB"}, 5)...)
			},
			failed: "Calendar gaps",
		},
		{
			name: "non-finite value",
			bars: func() []domain.Bar {
				bars := sufficientBars([]string{"AAA"}, 5)
				bars[1].Value = math.Inf(1)
				return bars
			},
			failed: "Non-finite values",
			errors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CheckSufficiency(tt.bars(), tt.req)

			assert.False(t, r.AllPass)
			assert.False(t, checkByName(t, r, tt.failed).Pass)
			for _, c := range r.Checks {
				if c.Name != tt.failed {
					assert.True(t, c.Pass, "unexpected failure of %s", c.Name)
				}
			}
			assert.Len(t, r.Errors, tt.errors)
		})
	}
}

func TestCheckSufficiency_Empty(t *testing.T) {
	r := CheckSufficiency(nil, SufficiencyRequirements{})

	assert.False(t, r.AllPass)
	assert.False(t, checkByName(t, r, "Universe coverage").Pass)
	assert.False(t, checkByName(t, r, "History length").Pass)
	assert.True(t, checkByName(t, r, "Calendar gaps").Pass)
}

func TestCheckSufficiency_ErrorsCapped(t *testing.T) {
	bars := sufficientBars([]string{"AAA"}, 50)
	for i := range bars {
		bars[i].Value = math.NaN()
	}

	r := CheckSufficiency(bars, SufficiencyRequirements{})
	assert.Equal(t, "50", checkByName(t, r, "Non-finite values").Actual)
	assert.Len(t, r.Errors, maxSufficiencyErrors)
}
