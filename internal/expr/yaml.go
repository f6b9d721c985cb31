package expr

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// NodeSpec is the structured (YAML) form of an expression tree.
//
//	op: sub
//	args:
//	  - {op: ts_mean, window: 5, args: [{col: close}]}
//	  - {op: ts_mean, window: 3, args: [{col: close}]}
type NodeSpec struct {
	Op     string     `yaml:"op,omitempty"`
	Col    string     `yaml:"col,omitempty"`
	Value  *float64   `yaml:"value,omitempty"`
	Window int        `yaml:"window,omitempty"`
	Args   []NodeSpec `yaml:"args,omitempty"`
}

// BlockSpec is the structured form of a Block.
type BlockSpec struct {
	Name   string   `yaml:"name,omitempty"`
	Output string   `yaml:"output" validate:"required"`
	Expr   NodeSpec `yaml:"expr"`
}

// ParseNode decodes a YAML expression tree.
func ParseNode(data []byte) (Node, error) {
	var spec NodeSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}
	return spec.Build()
}

// Build turns the block definition into a block.
func (s BlockSpec) Build() (*Block, error) {
	node, err := s.Expr.Build()
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", s.Output, err)
	}
	b := Assign(s.Output, node)
	if s.Name != "" {
		b = b.Named(s.Name)
	}
	return b, b.Validate()
}

// Build turns the node definition into a Node.
func (s NodeSpec) Build() (Node, error) {
	switch {
	case s.Col != "":
		return Col(s.Col), nil
	case s.Value != nil:
		return Const(*s.Value), nil
	}

	args := make([]Node, len(s.Args))
	for i, a := range s.Args {
		n, err := a.Build()
		if err != nil {
			return nil, err
		}
		args[i] = n
	}

	var node Node
	switch s.Op {
	case "add", "sub", "mul", "div":
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %s takes 2 args, got %d", ErrInvalidNode, s.Op, len(args))
		}
		node = map[string]func(a, b Node) Node{"add": Add, "sub": Sub, "mul": Mul, "div": Div}[s.Op](args[0], args[1])

	case "ts_mean", "ts_sum", "ts_std", "ts_delay", "ts_delta":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s takes 1 arg, got %d", ErrInvalidNode, s.Op, len(args))
		}
		node = map[string]func(x Node, n int) Node{
			"ts_mean": TsMean, "ts_sum": TsSum, "ts_std": TsStd, "ts_delay": TsDelay, "ts_delta": TsDelta,
		}[s.Op](args[0], s.Window)

	case "ts_cumsum", "cs_rank", "cs_zscore":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s takes 1 arg, got %d", ErrInvalidNode, s.Op, len(args))
		}
		node = map[string]func(x Node) Node{
			"ts_cumsum": TsCumSum, "cs_rank": CsRank, "cs_zscore": CsZScore,
		}[s.Op](args[0])

	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidNode, s.Op)
	}

	if err := node.validate(); err != nil {
		return nil, err
	}
	return node, nil
}
