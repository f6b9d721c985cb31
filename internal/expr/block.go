package expr

import (
	"fmt"
	"sort"
	"strings"

	"factor-lab/internal/domain"
)

// Block assigns the value of an expression tree to an output column.
type Block struct {
	name   string
	output string
	node   Node
}

// Assign creates a block writing node to column out. The block is named after
// its output column.
func Assign(out string, node Node) *Block {
	return &Block{name: out, output: out, node: node}
}

// Named returns a copy of the block with a different name.
func (b *Block) Named(name string) *Block {
	cp := *b
	cp.name = name
	return &cp
}

func (b *Block) Name() string { return b.name }
func (b *Block) Output() string { return b.output }
func (b *Block) Node() Node { return b.node }
func (b *Block) Window() domain.Window { return b.node.Window() }
func (b *Block) Inputs() []string { return b.node.Columns() }
func (b *Block) String() string { return b.output + " = " + b.node.String() }

// Validate checks the block and its expression tree.
func (b *Block) Validate() error {
	if b.output == "" {
		return fmt.Errorf("%w: block %q without output column", ErrInvalidNode, b.name)
	}
	if b.node == nil {
		return fmt.Errorf("%w: block %q without expression", ErrInvalidNode, b.name)
	}
	return b.node.validate()
}

// FuncImpl computes one value per row of a panel sorted by (entity, date).
// The returned slice must be aligned with panel.Rows.
type FuncImpl func(panel *domain.Panel) ([]float64, error)

// FuncBlock wraps arbitrary Go code. It cannot be introspected, so chunked
// computation rejects it unless it is wrapped with Declare.
type FuncBlock struct {
	name   string
	inputs []string
	output string
	fn     FuncImpl
}

// Func creates an opaque block.
func Func(name string, inputs []string, out string, fn FuncImpl) *FuncBlock {
	in := append([]string(nil), inputs...)
	sort.Strings(in)
	return &FuncBlock{name: name, inputs: in, output: out, fn: fn}
}

func (b *FuncBlock) Name() string { return b.name }
func (b *FuncBlock) Inputs() []string { return b.inputs }
func (b *FuncBlock) Output() string { return b.output }

func (b *FuncBlock) String() string {
	return b.output + " = func:" + b.name + "(" + strings.Join(b.inputs, ",") + ")"
}

// DeclaredBlock attaches a caller-declared window to an opaque block.
type DeclaredBlock struct {
	*FuncBlock
	window domain.Window
}

// Declare states the history an opaque block consumes. The declaration is
// trusted as given.
func Declare(b *FuncBlock, w domain.Window) *DeclaredBlock {
	return &DeclaredBlock{FuncBlock: b, window: w}
}

func (b *DeclaredBlock) Window() domain.Window { return b.window }

func (b *DeclaredBlock) String() string {
	return fmt.Sprintf("%s [depth=%d unbounded=%t cs=%t]",
		b.FuncBlock.String(), b.window.Depth, b.window.Unbounded, b.window.CrossSectional)
}

// Compile-time interface checks.
var (
	_ domain.TransformBlock = (*Block)(nil)
	_ domain.TransformBlock = (*FuncBlock)(nil)
	_ domain.TransformBlock = (*DeclaredBlock)(nil)
)
