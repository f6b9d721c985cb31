// Package expr evaluates structured factor expressions over panels.
//
// Expressions are trees of Nodes built with the constructors in this package
// or decoded from YAML. Every node reports the history window it consumes so
// the engine can decide whether chunked computation is safe.
package expr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"factor-lab/internal/domain"
)

// Expression errors.
var (
	ErrInvalidNode       = errors.New("invalid expression node")
	ErrMissingColumn     = errors.New("missing input column")
	ErrNotIntrospectable = errors.New("block does not declare its window")
	ErrEntityKey         = errors.New("unexpected entity key")
	ErrDuplicateRow      = errors.New("duplicate (date, entity) row")
)

// Node is one operator of an expression tree. Results are aligned with the
// rows of the frame being evaluated.
type Node interface {
	// Window is the history the node consumes, including its operands.
	Window() domain.Window
	// Columns lists the panel columns the node reads.
	Columns() []string
	// String renders the node canonically.
	String() string

	validate() error
	eval(f *frame) []float64
}

type colNode struct{ name string }

// Col reads a panel column.
func Col(name string) Node { return &colNode{name: name} }

func (n *colNode) Window() domain.Window { return domain.Window{} }
func (n *colNode) Columns() []string { return []string{n.name} }
func (n *colNode) String() string { return "col(" + n.name + ")" }

func (n *colNode) validate() error {
	if n.name == "" {
		return fmt.Errorf("%w: empty column name", ErrInvalidNode)
	}
	return nil
}

func (n *colNode) eval(f *frame) []float64 { return f.column(n.name) }

type constNode struct{ value float64 }

// Const is a scalar broadcast to every row.
func Const(v float64) Node { return &constNode{value: v} }

func (n *constNode) Window() domain.Window { return domain.Window{} }
func (n *constNode) Columns() []string { return nil }
func (n *constNode) String() string { return strconv.FormatFloat(n.value, 'g', -1, 64) }
func (n *constNode) validate() error { return nil }

func (n *constNode) eval(f *frame) []float64 {
	out := make([]float64, len(f.rows))
	for i := range out {
		out[i] = n.value
	}
	return out
}

type binaryNode struct {
	op   string
	a, b Node
	fn   func(x, y float64) float64
}

// Add returns a + b.
func Add(a, b Node) Node {
	return &binaryNode{op: "add", a: a, b: b, fn: func(x, y float64) float64 { return x + y }}
}

// Sub returns a - b.
func Sub(a, b Node) Node {
	return &binaryNode{op: "sub", a: a, b: b, fn: func(x, y float64) float64 { return x - y }}
}

// Mul returns a * b.
func Mul(a, b Node) Node {
	return &binaryNode{op: "mul", a: a, b: b, fn: func(x, y float64) float64 { return x * y }}
}

// Div returns a / b. Division by zero yields null.
func Div(a, b Node) Node {
	return &binaryNode{op: "div", a: a, b: b, fn: func(x, y float64) float64 {
		if y == 0 {
			return domain.Null
		}
		return x / y
	}}
}

func (n *binaryNode) Window() domain.Window { return n.a.Window().Merge(n.b.Window()) }
func (n *binaryNode) Columns() []string { return union(n.a.Columns(), n.b.Columns()) }

func (n *binaryNode) String() string {
	return n.op + "(" + n.a.String() + "," + n.b.String() + ")"
}

func (n *binaryNode) validate() error {
	if n.a == nil || n.b == nil {
		return fmt.Errorf("%w: %s needs two operands", ErrInvalidNode, n.op)
	}
	if err := n.a.validate(); err != nil {
		return err
	}
	return n.b.validate()
}

func (n *binaryNode) eval(f *frame) []float64 {
	xs, ys := n.a.eval(f), n.b.eval(f)
	out := make([]float64, len(xs))
	for i := range xs {
		if domain.IsNull(xs[i]) || domain.IsNull(ys[i]) {
			out[i] = domain.Null
			continue
		}
		out[i] = n.fn(xs[i], ys[i])
	}
	return out
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func joinArgs(args ...string) string {
	return strings.Join(args, ",")
}
