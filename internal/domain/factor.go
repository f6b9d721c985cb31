package domain

import (
	"sort"
	"time"
)

// FactorPoint is one row of a long-form factor table.
type FactorPoint struct {
	Date   time.Time // period start (UTC)
	Symbol string    // entity identifier
	Value  float64   // factor value, never NaN in emitted tables
}

// FactorKey identifies a (date, symbol) cell.
type FactorKey struct {
	Date   int64 // UnixNano of the period start
	Symbol string
}

// Key returns the (date, symbol) key of the point.
func (p *FactorPoint) Key() FactorKey {
	return FactorKey{Date: p.Date.UnixNano(), Symbol: p.Symbol}
}

// ComparePoints orders points by (date ASC, symbol ASC).
// Returns negative if a < b, zero if equal keys, positive if a > b.
func ComparePoints(a, b *FactorPoint) int {
	if !a.Date.Equal(b.Date) {
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	}
	if a.Symbol != b.Symbol {
		if a.Symbol < b.Symbol {
			return -1
		}
		return 1
	}
	return 0
}

// SortPoints orders points by (date, symbol) in place. The sort is stable so
// rows sharing a key keep their write order.
func SortPoints(points []*FactorPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return ComparePoints(points[i], points[j]) < 0
	})
}

// DedupLastWins returns a sorted copy of points with one row per key; among
// rows sharing a key the one appearing last in the input wins.
func DedupLastWins(points []*FactorPoint) []*FactorPoint {
	latest := make(map[FactorKey]int, len(points))
	for i, p := range points {
		latest[p.Key()] = i
	}
	out := make([]*FactorPoint, 0, len(latest))
	for i, p := range points {
		if latest[p.Key()] == i {
			cp := *p
			out = append(out, &cp)
		}
	}
	SortPoints(out)
	return out
}

// HasDuplicateKeys reports whether any (date, symbol) key appears twice.
func HasDuplicateKeys(points []*FactorPoint) bool {
	seen := make(map[FactorKey]struct{}, len(points))
	for _, p := range points {
		k := p.Key()
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}

// FilterDateRange returns points whose date lies in [start, end].
// Nil bounds are open.
func FilterDateRange(points []*FactorPoint, start, end *time.Time) []*FactorPoint {
	out := make([]*FactorPoint, 0, len(points))
	for _, p := range points {
		if start != nil && p.Date.Before(*start) {
			continue
		}
		if end != nil && p.Date.After(*end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ClonePoints returns a deep copy.
func ClonePoints(points []*FactorPoint) []*FactorPoint {
	out := make([]*FactorPoint, len(points))
	for i, p := range points {
		cp := *p
		out[i] = &cp
	}
	return out
}
