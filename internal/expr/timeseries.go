package expr

import (
	"fmt"
	"math"
	"strconv"

	"factor-lab/internal/domain"
)

// windowFunc reduces the n values ending at the current row.
type windowFunc func(values []float64) float64

type rollingNode struct {
	op string
	x  Node
	n  int
	fn windowFunc
}

// TsMean is the mean of the last n values of x per entity.
func TsMean(x Node, n int) Node {
	return &rollingNode{op: "ts_mean", x: x, n: n, fn: func(v []float64) float64 {
		return sum(v) / float64(len(v))
	}}
}

// TsSum is the sum of the last n values of x per entity.
func TsSum(x Node, n int) Node {
	return &rollingNode{op: "ts_sum", x: x, n: n, fn: sum}
}

// TsStd is the sample standard deviation of the last n values of x per entity.
func TsStd(x Node, n int) Node {
	return &rollingNode{op: "ts_std", x: x, n: n, fn: func(v []float64) float64 {
		if len(v) < 2 {
			return domain.Null
		}
		mean := sum(v) / float64(len(v))
		var ss float64
		for _, x := range v {
			ss += (x - mean) * (x - mean)
		}
		return math.Sqrt(ss / float64(len(v)-1))
	}}
}

// sum adds values oldest first so a given window always sums identically.
func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func (n *rollingNode) Window() domain.Window { return n.x.Window().Nest(n.n - 1) }
func (n *rollingNode) Columns() []string { return n.x.Columns() }

func (n *rollingNode) String() string {
	return n.op + "(" + joinArgs(n.x.String(), strconv.Itoa(n.n)) + ")"
}

func (n *rollingNode) validate() error {
	if n.x == nil {
		return fmt.Errorf("%w: %s without operand", ErrInvalidNode, n.op)
	}
	if n.n < 1 {
		return fmt.Errorf("%w: %s window %d", ErrInvalidNode, n.op, n.n)
	}
	return n.x.validate()
}

// eval recomputes every window from scratch. Incremental sums would make
// results depend on where the fetched history begins.
func (n *rollingNode) eval(f *frame) []float64 {
	xs := n.x.eval(f)
	out := nulls(len(xs))

	for _, g := range f.groups {
		for i := g.lo + n.n - 1; i < g.hi; i++ {
			window := xs[i-n.n+1 : i+1]
			if anyNull(window) {
				continue
			}
			out[i] = n.fn(window)
		}
	}
	return out
}

type lagNode struct {
	op    string
	x     Node
	k     int
	delta bool
}

// TsDelay is x shifted k periods back per entity.
func TsDelay(x Node, k int) Node { return &lagNode{op: "ts_delay", x: x, k: k} }

// TsDelta is x minus x k periods back per entity.
func TsDelta(x Node, k int) Node { return &lagNode{op: "ts_delta", x: x, k: k, delta: true} }

func (n *lagNode) Window() domain.Window { return n.x.Window().Nest(n.k) }
func (n *lagNode) Columns() []string { return n.x.Columns() }

func (n *lagNode) String() string {
	return n.op + "(" + joinArgs(n.x.String(), strconv.Itoa(n.k)) + ")"
}

func (n *lagNode) validate() error {
	if n.x == nil {
		return fmt.Errorf("%w: %s without operand", ErrInvalidNode, n.op)
	}
	if n.k < 0 {
		return fmt.Errorf("%w: %s period %d", ErrInvalidNode, n.op, n.k)
	}
	return n.x.validate()
}

func (n *lagNode) eval(f *frame) []float64 {
	xs := n.x.eval(f)
	out := nulls(len(xs))

	for _, g := range f.groups {
		for i := g.lo + n.k; i < g.hi; i++ {
			prev := xs[i-n.k]
			if domain.IsNull(prev) {
				continue
			}
			if !n.delta {
				out[i] = prev
				continue
			}
			if !domain.IsNull(xs[i]) {
				out[i] = xs[i] - prev
			}
		}
	}
	return out
}

type cumSumNode struct{ x Node }

// TsCumSum is the running total of x per entity since the first fetched row.
// It depends on all prior history.
func TsCumSum(x Node) Node { return &cumSumNode{x: x} }

func (n *cumSumNode) Window() domain.Window {
	w := n.x.Window()
	w.Unbounded = true
	return w
}

func (n *cumSumNode) Columns() []string { return n.x.Columns() }
func (n *cumSumNode) String() string { return "ts_cumsum(" + n.x.String() + ")" }

func (n *cumSumNode) validate() error {
	if n.x == nil {
		return fmt.Errorf("%w: ts_cumsum without operand", ErrInvalidNode)
	}
	return n.x.validate()
}

func (n *cumSumNode) eval(f *frame) []float64 {
	xs := n.x.eval(f)
	out := nulls(len(xs))

	for _, g := range f.groups {
		var total float64
		for i := g.lo; i < g.hi; i++ {
			if domain.IsNull(xs[i]) {
				continue
			}
			total += xs[i]
			out[i] = total
		}
	}
	return out
}

func nulls(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = domain.Null
	}
	return out
}

func anyNull(values []float64) bool {
	for _, v := range values {
		if domain.IsNull(v) {
			return true
		}
	}
	return false
}
