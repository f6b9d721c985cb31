package expr

import (
	"fmt"
	"math"
	"sort"

	"factor-lab/internal/domain"
)

type crossNode struct {
	op string
	x  Node
	fn func(values []float64) []float64
}

// CsRank is the percentile rank of x among entities on the same date.
// Ties share their average rank.
func CsRank(x Node) Node { return &crossNode{op: "cs_rank", x: x, fn: pctRank} }

// CsZScore standardizes x across entities on the same date.
func CsZScore(x Node) Node { return &crossNode{op: "cs_zscore", x: x, fn: zscore} }

func (n *crossNode) Window() domain.Window {
	w := n.x.Window()
	w.CrossSectional = true
	return w
}

func (n *crossNode) Columns() []string { return n.x.Columns() }
func (n *crossNode) String() string { return n.op + "(" + n.x.String() + ")" }

func (n *crossNode) validate() error {
	if n.x == nil {
		return fmt.Errorf("%w: %s without operand", ErrInvalidNode, n.op)
	}
	return n.x.validate()
}

// eval applies fn to the non-null values of each date group.
func (n *crossNode) eval(f *frame) []float64 {
	xs := n.x.eval(f)
	out := nulls(len(xs))

	for _, idx := range f.dates {
		var (
			pos    []int
			values []float64
		)
		for _, i := range idx {
			if !domain.IsNull(xs[i]) {
				pos = append(pos, i)
				values = append(values, xs[i])
			}
		}
		if len(values) == 0 {
			continue
		}
		for j, v := range n.fn(values) {
			out[pos[j]] = v
		}
	}
	return out
}

func pctRank(values []float64) []float64 {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	out := make([]float64, len(values))
	count := float64(len(values))
	for lo := 0; lo < len(order); {
		hi := lo + 1
		for hi < len(order) && values[order[hi]] == values[order[lo]] {
			hi++
		}
		// 1-based ranks lo+1..hi share their average
		avg := float64(lo+1+hi) / 2
		for k := lo; k < hi; k++ {
			out[order[k]] = avg / count
		}
		lo = hi
	}
	return out
}

func zscore(values []float64) []float64 {
	out := nulls(len(values))
	if len(values) < 2 {
		return out
	}

	mean := sum(values) / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(values)-1))
	if std == 0 {
		return out
	}

	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
