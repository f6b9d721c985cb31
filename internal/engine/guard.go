package engine

import (
	"fmt"

	"factor-lab/internal/domain"
)

// BlockWindow is the history a block needs once the windows of the blocks
// producing its inputs are added to its own.
type BlockWindow struct {
	Block  domain.TransformBlock
	Window domain.Window
	// Known is false when the block or one of its producers cannot be
	// introspected. Window then only carries the flags inherited from
	// known producers.
	Known bool
	Err   error
}

// EffectiveWindows resolves every block of spec in order. A block reading
// the output of an earlier block needs its own depth on top of the depth
// that produced the column, and inherits the producer's flags.
func EffectiveWindows(ev Evaluator, spec *domain.FactorSpec) []BlockWindow {
	produced := make(map[string]BlockWindow, len(spec.Blocks))
	out := make([]BlockWindow, 0, len(spec.Blocks))

	for _, b := range spec.Blocks {
		bw := BlockWindow{Block: b, Known: true}
		own, err := ev.Inspect(b)
		if err != nil {
			bw.Known, bw.Err = false, err
		}

		var upstream domain.Window
		for _, in := range b.Inputs() {
			p, ok := produced[in]
			if !ok {
				continue
			}
			upstream = upstream.Merge(p.Window)
			if !p.Known {
				bw.Known = false
				if bw.Err == nil {
					bw.Err = fmt.Errorf("input %s: %v", in, p.Err)
				}
			}
		}

		w := upstream.Nest(own.Depth)
		w.Unbounded = w.Unbounded || own.Unbounded
		w.CrossSectional = w.CrossSectional || own.CrossSectional
		bw.Window = w

		produced[b.Output()] = bw
		out = append(out, bw)
	}
	return out
}

// CheckWindowSafe reports whether every block of spec, chained through the
// columns it reads, stays within spec.Lookback. Blocks that cannot be
// introspected are treated as unsafe.
func CheckWindowSafe(ev Evaluator, spec *domain.FactorSpec) error {
	for _, bw := range EffectiveWindows(ev, spec) {
		if !bw.Known {
			return fmt.Errorf("%w: %s: %v", ErrUnsafeChunking, bw.Block.Name(), bw.Err)
		}
		if bw.Window.Unbounded {
			return fmt.Errorf("%w: %s depends on unbounded history", ErrUnsafeChunking, bw.Block.Name())
		}
		if bw.Window.Depth > spec.Lookback {
			return fmt.Errorf("%w: %s needs %d periods, lookback is %d",
				ErrUnsafeChunking, bw.Block.Name(), bw.Window.Depth, spec.Lookback)
		}
	}
	return nil
}

// CheckBatchSafe rejects specs where a block, or a producer it reads, is
// cross-sectional. ok is false when some block could not be introspected.
func CheckBatchSafe(ev Evaluator, spec *domain.FactorSpec) (ok bool, err error) {
	ok = true
	for _, bw := range EffectiveWindows(ev, spec) {
		if bw.Window.CrossSectional {
			return false, fmt.Errorf("%w: %s is cross-sectional", ErrUnsafeBatching, bw.Block.Name())
		}
		if !bw.Known {
			ok = false
		}
	}
	return ok, nil
}

// checkIncremental rejects blocks known to exceed the lookback once chained
// depths are added. Blocks that cannot be introspected pass; ok reports
// whether every block was verified.
func checkIncremental(ev Evaluator, spec *domain.FactorSpec) (ok bool, err error) {
	ok = true
	for _, bw := range EffectiveWindows(ev, spec) {
		w := bw.Window
		if w.Unbounded || w.Depth > spec.Lookback {
			return false, fmt.Errorf("%w: %s (depth=%d unbounded=%t lookback=%d)",
				ErrUnsafeIncremental, bw.Block.Name(), w.Depth, w.Unbounded, spec.Lookback)
		}
		if !bw.Known {
			ok = false
		}
	}
	return ok, nil
}
