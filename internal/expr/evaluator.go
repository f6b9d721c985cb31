package expr

import (
	"context"
	"fmt"
	"log"
	"time"

	"factor-lab/internal/domain"
)

// EntityKey is the entity column name the evaluator works with.
const EntityKey = "asset"

// windowed is implemented by blocks that declare their history window.
type windowed interface {
	Window() domain.Window
}

// Evaluator runs expression blocks over a panel.
type Evaluator struct {
	logger *log.Logger
}

// NewEvaluator creates a new Evaluator. logger may be nil.
func NewEvaluator(logger *log.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// EntityKey returns the entity column name expected on input panels.
func (e *Evaluator) EntityKey() string { return EntityKey }

// Inspect returns the window a block declares. Blocks that declare nothing
// are reported with ErrNotIntrospectable.
func (e *Evaluator) Inspect(block domain.TransformBlock) (domain.Window, error) {
	if b, ok := block.(*Block); ok {
		if err := b.Validate(); err != nil {
			return domain.Window{}, err
		}
	}
	w, ok := block.(windowed)
	if !ok {
		return domain.Window{}, fmt.Errorf("%w: %s", ErrNotIntrospectable, block.Name())
	}
	return w.Window(), nil
}

// Evaluate computes every block in order and returns a new panel holding the
// input columns plus each block's output, sorted by (date, entity). Later
// blocks may read earlier outputs.
func (e *Evaluator) Evaluate(ctx context.Context, panel *domain.Panel, blocks []domain.TransformBlock) (*domain.Panel, error) {
	if panel.EntityKey != EntityKey {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrEntityKey, panel.EntityKey, EntityKey)
	}

	out := panel.Clone()
	f, err := newFrame(out)
	if err != nil {
		return nil, err
	}

	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, in := range block.Inputs() {
			if !out.HasColumn(in) {
				return nil, fmt.Errorf("%w: block %s reads %q", ErrMissingColumn, block.Name(), in)
			}
		}

		values, err := e.run(f, block)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", block.Name(), err)
		}

		for i, r := range f.rows {
			r.Values[block.Output()] = values[i]
		}
		out.AddColumn(block.Output())
		f.invalidate(block.Output())
	}

	out.SortByDateSymbol()
	return out, nil
}

func (e *Evaluator) run(f *frame, block domain.TransformBlock) ([]float64, error) {
	switch b := block.(type) {
	case *Block:
		if err := b.Validate(); err != nil {
			return nil, err
		}
		start := time.Now()
		values := b.node.eval(f)
		if e.logger != nil {
			e.logger.Printf("evaluated %s over %d rows in %v", b.name, len(f.rows), time.Since(start))
		}
		return values, nil

	case *DeclaredBlock:
		return b.FuncBlock.call(f)

	case *FuncBlock:
		return b.call(f)

	default:
		return nil, fmt.Errorf("%w: unsupported block type %T", ErrInvalidNode, block)
	}
}

func (b *FuncBlock) call(f *frame) ([]float64, error) {
	if b.fn == nil {
		return nil, fmt.Errorf("%w: func block without implementation", ErrInvalidNode)
	}
	view := &domain.Panel{EntityKey: EntityKey, Rows: f.rows}
	values, err := b.fn(view)
	if err != nil {
		return nil, err
	}
	if len(values) != len(f.rows) {
		return nil, fmt.Errorf("%w: func block returned %d values for %d rows",
			ErrInvalidNode, len(values), len(f.rows))
	}
	return values, nil
}

// group is a contiguous run of one entity's rows in [lo, hi).
type group struct{ lo, hi int }

// frame is a panel laid out for evaluation: rows sorted by (entity, date),
// entity runs for time-series ops and per-date row indices for
// cross-sectional ops.
type frame struct {
	rows   []*domain.PanelRow
	groups []group
	dates  [][]int
	cache  map[string][]float64
}

func newFrame(p *domain.Panel) (*frame, error) {
	p.SortBySymbolDate()
	f := &frame{rows: p.Rows, cache: make(map[string][]float64)}

	dateIndex := make(map[int64]int)
	for i, r := range f.rows {
		if i == 0 || r.Symbol != f.rows[i-1].Symbol {
			if len(f.groups) > 0 {
				f.groups[len(f.groups)-1].hi = i
			}
			f.groups = append(f.groups, group{lo: i})
		} else if r.Date.Equal(f.rows[i-1].Date) {
			return nil, fmt.Errorf("%w: %s at %s", ErrDuplicateRow, r.Symbol, r.Date.Format(time.RFC3339))
		}

		k := r.Date.UnixNano()
		d, ok := dateIndex[k]
		if !ok {
			d = len(f.dates)
			dateIndex[k] = d
			f.dates = append(f.dates, nil)
		}
		f.dates[d] = append(f.dates[d], i)
	}
	if len(f.groups) > 0 {
		f.groups[len(f.groups)-1].hi = len(f.rows)
	}
	return f, nil
}

// column returns the values of a column aligned with rows. The result is
// shared and must not be modified.
func (f *frame) column(name string) []float64 {
	if v, ok := f.cache[name]; ok {
		return v
	}
	v := make([]float64, len(f.rows))
	for i, r := range f.rows {
		v[i] = r.Get(name)
	}
	f.cache[name] = v
	return v
}

func (f *frame) invalidate(name string) {
	delete(f.cache, name)
}
