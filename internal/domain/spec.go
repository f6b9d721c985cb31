package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidSpec is returned when a FactorSpec fails validation.
var ErrInvalidSpec = errors.New("invalid factor spec")

// TransformBlock is an opaque, named computation unit. The engine only relies
// on its declared inputs and output column; how it computes is the
// evaluator's concern.
type TransformBlock interface {
	// Name identifies the block in logs and hashes.
	Name() string
	// Inputs lists the columns the block reads.
	Inputs() []string
	// Output is the column the block writes.
	Output() string
}

// Window is the history a block declares it consumes.
type Window struct {
	Depth          int  // prior periods needed for a defined value at t
	Unbounded      bool // depends on all history (cumulative, expanding)
	CrossSectional bool // depends on other entities at the same date
}

// Merge returns the window of two sibling operands: the deeper depth wins and
// the flags are combined.
func (w Window) Merge(o Window) Window {
	if o.Depth > w.Depth {
		w.Depth = o.Depth
	}
	w.Unbounded = w.Unbounded || o.Unbounded
	w.CrossSectional = w.CrossSectional || o.CrossSectional
	return w
}

// Nest returns the window of an operator of the given depth applied to w.
func (w Window) Nest(depth int) Window {
	w.Depth += depth
	return w
}

// FactorSpec is an immutable factor descriptor.
type FactorSpec struct {
	Name     string           // store key
	Freq     Frequency        // bar size
	Inputs   []string         // raw fields required from the source
	Blocks   []TransformBlock // evaluated in order
	Output   string           // column holding the factor value
	Lookback int              // prior periods any block may consume
	Lag      int              // caller-controlled shift, not applied by the engine
}

// Validate checks the descriptor for structural errors.
func (s *FactorSpec) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	if s.Output == "" {
		return fmt.Errorf("%w: %s: empty output column", ErrInvalidSpec, s.Name)
	}
	if len(s.Blocks) == 0 {
		return fmt.Errorf("%w: %s: no transform blocks", ErrInvalidSpec, s.Name)
	}
	if s.Lookback < 0 {
		return fmt.Errorf("%w: %s: negative lookback %d", ErrInvalidSpec, s.Name, s.Lookback)
	}
	if s.Lag < 0 {
		return fmt.Errorf("%w: %s: negative lag %d", ErrInvalidSpec, s.Name, s.Lag)
	}
	if err := s.Freq.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, s.Name, err)
	}
	return nil
}

// BlockNames returns the names of the factor's blocks in order.
func (s *FactorSpec) BlockNames() []string {
	names := make([]string, len(s.Blocks))
	for i, b := range s.Blocks {
		names[i] = b.Name()
	}
	return names
}
