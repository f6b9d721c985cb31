package ingestion

import (
	"errors"
	"sort"
	"strings"

	"factor-lab/internal/domain"
)

// ErrInvalidOrdering is returned when bars are not strictly ordered, which
// also rejects duplicate (date, symbol, field) keys.
var ErrInvalidOrdering = errors.New("bars are not in deterministic order")

// SortBars orders bars by (date ASC, symbol ASC, field ASC).
func SortBars(bars []domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return compareBars(bars[i], bars[j]) < 0
	})
}

// ValidateBarOrdering checks that bars are strictly increasing.
// Returns ErrInvalidOrdering if not.
func ValidateBarOrdering(bars []domain.Bar) error {
	for i := 1; i < len(bars); i++ {
		if compareBars(bars[i-1], bars[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareBars returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (date ASC, symbol ASC, field ASC)
func compareBars(a, b domain.Bar) int {
	if !a.Date.Equal(b.Date) {
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
		return c
	}
	return strings.Compare(a.Field, b.Field)
}
