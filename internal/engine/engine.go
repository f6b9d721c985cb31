// Package engine computes factor tables and keeps full, incremental and
// partitioned computations consistent with each other.
//
// Every mode fetches raw fields from a Source, evaluates the factor's blocks
// once per fetched panel, normalizes the output to (date, symbol, value) rows
// and then mutates the FactorStore exactly once.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"factor-lab/internal/domain"
	"factor-lab/internal/observability"
	"factor-lab/internal/source"
	"factor-lab/internal/storage"
)

// HistoryBuffer is the number of observed periods fetched beyond the
// lookback. It absorbs operators that reach one step further than declared.
const HistoryBuffer = 2

// maxHistoryGapDays is the longest run of calendar days without bars that a
// history fetch looks across before giving up on earlier data.
const maxHistoryGapDays = 14

// Mode identifies a computation mode.
type Mode string

// Computation modes.
const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeByDate      Mode = "by_date"
	ModeByCode      Mode = "by_code"
)

// Evaluator runs transform blocks over a panel.
type Evaluator interface {
	// Evaluate returns the input panel extended with every block's output column.
	Evaluate(ctx context.Context, panel *domain.Panel, blocks []domain.TransformBlock) (*domain.Panel, error)

	// Inspect returns the window a block declares, or an error if it declares none.
	Inspect(block domain.TransformBlock) (domain.Window, error)
}

// EntityKeyer is implemented by evaluators that name the entity column
// differently from "symbol".
type EntityKeyer interface {
	EntityKey() string
}

// StoreEvent describes one store mutation.
type StoreEvent struct {
	Factor string    `json:"factor"`
	Mode   Mode      `json:"mode"`
	Op     string    `json:"op"` // "write" or "overwrite"
	Rows   int       `json:"rows"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	At     time.Time `json:"at"`
}

// Notifier receives store events after each successful mutation.
type Notifier interface {
	Notify(ev StoreEvent)
}

// Engine orchestrates fetch, evaluation and store mutation.
type Engine struct {
	store     storage.FactorStore
	source    source.Source
	evaluator Evaluator

	logger      *log.Logger
	parallelism int
	notifier    Notifier
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Without one the engine is silent.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithParallelism bounds concurrent chunk or batch evaluation.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithNotifier sets the store event receiver.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the metrics sink. Defaults to observability.DefaultMetrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates a new Engine.
func New(store storage.FactorStore, src source.Source, ev Evaluator, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		source:      src,
		evaluator:   ev,
		parallelism: runtime.GOMAXPROCS(0),
		metrics:     observability.DefaultMetrics,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's factor store.
func (e *Engine) Store() storage.FactorStore {
	return e.store
}

// ComputeFull evaluates [start, end] in one pass and overwrites the stored
// entry. The range is not extended: the first periods of each series stay
// undefined and are dropped.
func (e *Engine) ComputeFull(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) (result []*domain.FactorPoint, err error) {
	began := e.now()
	defer func() { e.metrics.RecordCompute(string(ModeFull), len(result), e.now().Sub(began), err) }()

	start, end, err = prepare(spec, universe, start, end)
	if err != nil {
		return nil, err
	}

	points, err := e.compute(ctx, spec, universe, start, end)
	if err != nil {
		return nil, err
	}
	if err := e.overwrite(ctx, spec, ModeFull, points, start, end); err != nil {
		return nil, err
	}

	e.logf("%s full [%s, %s]: %d rows", spec.Name, fmtDate(start), fmtDate(end), len(points))
	return points, nil
}

// ComputeIncremental computes [min(newDates), max(newDates)] from a
// lookback-extended fetch and merges the rows into the stored entry.
func (e *Engine) ComputeIncremental(ctx context.Context, spec *domain.FactorSpec, universe []string, newDates []time.Time) (result []*domain.FactorPoint, err error) {
	began := e.now()
	defer func() { e.metrics.RecordCompute(string(ModeIncremental), len(result), e.now().Sub(began), err) }()

	if len(newDates) == 0 {
		return []*domain.FactorPoint{}, nil
	}

	start, end := newDates[0], newDates[0]
	for _, d := range newDates[1:] {
		if d.Before(start) {
			start = d
		}
		if d.After(end) {
			end = d
		}
	}
	start, end, err = prepare(spec, universe, start, end)
	if err != nil {
		return nil, err
	}

	verified, err := checkIncremental(e.evaluator, spec)
	if err != nil {
		e.metrics.RecordGuardRejection(string(ModeIncremental))
		return nil, err
	}
	if !verified {
		e.logf("WARN: %s has blocks without a declared window; incremental output relies on lookback=%d",
			spec.Name, spec.Lookback)
	}

	points, err := e.computeWithHistory(ctx, spec, universe, start, end)
	if err != nil {
		return nil, err
	}
	points = domain.FilterDateRange(points, &start, &end)

	if err := e.store.Write(ctx, spec.Name, points); err != nil {
		return nil, fmt.Errorf("write %s: %w", spec.Name, err)
	}
	e.notify(spec, ModeIncremental, "write", len(points), start, end)

	e.logf("%s incremental [%s, %s]: %d rows", spec.Name, fmtDate(start), fmtDate(end), len(points))
	return points, nil
}

// ComputeFullByDate splits [start, end] into chunks of chunkDays periods,
// evaluates each chunk from its own lookback-extended fetch, and overwrites
// the stored entry with the concatenation. Specs whose blocks cannot be
// bounded by the lookback are rejected before anything is fetched.
func (e *Engine) ComputeFullByDate(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time, chunkDays int) (result []*domain.FactorPoint, err error) {
	began := e.now()
	defer func() { e.metrics.RecordCompute(string(ModeByDate), len(result), e.now().Sub(began), err) }()

	start, end, err = prepare(spec, universe, start, end)
	if err != nil {
		return nil, err
	}
	if err := CheckWindowSafe(e.evaluator, spec); err != nil {
		e.metrics.RecordGuardRejection(string(ModeByDate))
		return nil, err
	}

	chunks, err := source.DateChunks(start, end, chunkDays, spec.Freq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	parts := make([][]*domain.FactorPoint, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			points, err := e.computeWithHistory(gctx, spec, universe, chunk.Start, chunk.End)
			if err != nil {
				return fmt.Errorf("chunk %s..%s: %w", fmtDate(chunk.Start), fmtDate(chunk.End), err)
			}
			parts[i] = domain.FilterDateRange(points, &chunk.Start, &chunk.End)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.metrics.RecordParts(string(ModeByDate), len(chunks))

	points, err := concat(parts)
	if err != nil {
		return nil, err
	}
	if err := e.overwrite(ctx, spec, ModeByDate, points, start, end); err != nil {
		return nil, err
	}

	e.logf("%s by_date [%s, %s] in %d chunks: %d rows",
		spec.Name, fmtDate(start), fmtDate(end), len(chunks), len(points))
	return points, nil
}

// ComputeFullByCode splits the universe into batches of batchSize, evaluates
// each batch over the full range, and overwrites the stored entry with the
// concatenation. Specs with cross-sectional blocks are rejected; blocks
// without a declared window are trusted to be per entity and logged.
func (e *Engine) ComputeFullByCode(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time, batchSize int) (result []*domain.FactorPoint, err error) {
	began := e.now()
	defer func() { e.metrics.RecordCompute(string(ModeByCode), len(result), e.now().Sub(began), err) }()

	start, end, err = prepare(spec, universe, start, end)
	if err != nil {
		return nil, err
	}
	verified, err := CheckBatchSafe(e.evaluator, spec)
	if err != nil {
		e.metrics.RecordGuardRejection(string(ModeByCode))
		return nil, err
	}
	if !verified {
		e.logf("WARN: %s has blocks without a declared window; by_code output assumes they are per entity",
			spec.Name)
	}

	batches, err := source.EntityBatches(universe, batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	parts := make([][]*domain.FactorPoint, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			points, err := e.compute(gctx, spec, batch, start, end)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			parts[i] = points
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.metrics.RecordParts(string(ModeByCode), len(batches))

	points, err := concat(parts)
	if err != nil {
		return nil, err
	}
	if err := e.overwrite(ctx, spec, ModeByCode, points, start, end); err != nil {
		return nil, err
	}

	e.logf("%s by_code [%s, %s] in %d batches: %d rows",
		spec.Name, fmtDate(start), fmtDate(end), len(batches), len(points))
	return points, nil
}

// compute fetches [from, to], evaluates the blocks and normalizes the output.
func (e *Engine) compute(ctx context.Context, spec *domain.FactorSpec, universe []string, from, to time.Time) ([]*domain.FactorPoint, error) {
	panel, err := e.fetch(ctx, spec, universe, from, to)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, spec, panel)
}

// computeWithHistory is compute over a fetch that also carries the
// Lookback+HistoryBuffer observed periods preceding start.
func (e *Engine) computeWithHistory(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) ([]*domain.FactorPoint, error) {
	panel, err := e.fetchHistory(ctx, spec, universe, start, end)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, spec, panel)
}

func (e *Engine) fetch(ctx context.Context, spec *domain.FactorSpec, universe []string, from, to time.Time) (*domain.Panel, error) {
	panel, err := e.source.Fetch(ctx, source.Request{
		Universe: universe,
		Start:    from,
		End:      to,
		Fields:   spec.Inputs,
		Freq:     spec.Freq,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", spec.Name, err)
	}
	return panel, nil
}

// fetchHistory fetches [start, end] plus the history before start. Bars are
// counted, not wall-clock steps, so weekends and overnight sessions do not
// shorten the history. The reach widens until enough prior periods are seen
// or the search limit is hit, which happens at the beginning of the data.
// Periods older than the ones needed are trimmed so the result does not
// depend on how far the search went.
func (e *Engine) fetchHistory(ctx context.Context, spec *domain.FactorSpec, universe []string, start, end time.Time) (*domain.Panel, error) {
	need := spec.Lookback + HistoryBuffer
	limit := spec.Freq.Shift(start, -4*need)
	if cal := start.AddDate(0, 0, -(need + maxHistoryGapDays)); cal.Before(limit) {
		limit = cal
	}

	for span := need; ; span *= 4 {
		from := spec.Freq.Shift(start, -span)
		if from.Before(limit) {
			from = limit
		}
		panel, err := e.fetch(ctx, spec, universe, from, end)
		if err != nil {
			return nil, err
		}
		if trimHistory(panel, start, need) || !from.After(limit) {
			return panel, nil
		}
	}
}

// trimHistory keeps the last n distinct dates before start and reports
// whether n were available. The panel is left as is otherwise.
func trimHistory(panel *domain.Panel, start time.Time, n int) bool {
	seen := make(map[time.Time]struct{})
	prior := make([]time.Time, 0, n)
	for _, r := range panel.Rows {
		if !r.Date.Before(start) {
			continue
		}
		if _, ok := seen[r.Date]; ok {
			continue
		}
		seen[r.Date] = struct{}{}
		prior = append(prior, r.Date)
	}
	if len(prior) < n {
		return false
	}
	if n == 0 {
		return true
	}

	sort.Slice(prior, func(i, j int) bool { return prior[i].After(prior[j]) })
	cutoff := prior[n-1]
	rows := panel.Rows[:0]
	for _, r := range panel.Rows {
		if !r.Date.Before(cutoff) {
			rows = append(rows, r)
		}
	}
	panel.Rows = rows
	return true
}

// evaluate runs the blocks over a fetched panel and normalizes the output.
func (e *Engine) evaluate(ctx context.Context, spec *domain.FactorSpec, panel *domain.Panel) ([]*domain.FactorPoint, error) {
	if k, ok := e.evaluator.(EntityKeyer); ok {
		panel.EntityKey = k.EntityKey()
	}

	out, err := e.evaluator.Evaluate(ctx, panel, spec.Blocks)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", spec.Name, err)
	}
	out.EntityKey = domain.ColumnSymbol

	return normalize(out, spec.Output)
}

// overwrite replaces the stored entry once every part has been computed.
func (e *Engine) overwrite(ctx context.Context, spec *domain.FactorSpec, mode Mode, points []*domain.FactorPoint, start, end time.Time) error {
	if err := e.store.Overwrite(ctx, spec.Name, points); err != nil {
		return fmt.Errorf("overwrite %s: %w", spec.Name, err)
	}
	e.notify(spec, mode, "overwrite", len(points), start, end)
	return nil
}

func (e *Engine) notify(spec *domain.FactorSpec, mode Mode, op string, rows int, start, end time.Time) {
	e.metrics.RecordStoreMutation(op, spec.Name, rows)
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(StoreEvent{
		Factor: spec.Name,
		Mode:   mode,
		Op:     op,
		Rows:   rows,
		Start:  start,
		End:    end,
		At:     e.now().UTC(),
	})
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// prepare validates a request and aligns its bounds to the factor frequency.
func prepare(spec *domain.FactorSpec, universe []string, start, end time.Time) (time.Time, time.Time, error) {
	if err := spec.Validate(); err != nil {
		return start, end, err
	}
	if len(universe) == 0 {
		return start, end, fmt.Errorf("%w: empty universe", ErrInvalidRequest)
	}
	start, end = spec.Freq.Truncate(start), spec.Freq.Truncate(end)
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: end %s before start %s", ErrInvalidRequest, fmtDate(end), fmtDate(start))
	}
	return start, end, nil
}

// normalize converts evaluator output to sorted long form, dropping nulls.
func normalize(panel *domain.Panel, output string) ([]*domain.FactorPoint, error) {
	if !panel.HasColumn(output) {
		return nil, fmt.Errorf("%w: evaluator output lacks column %q", ErrSchema, output)
	}

	points := make([]*domain.FactorPoint, 0, panel.Len())
	for _, r := range panel.Rows {
		v := r.Get(output)
		if domain.IsNull(v) {
			continue
		}
		points = append(points, &domain.FactorPoint{Date: r.Date, Symbol: r.Symbol, Value: v})
	}

	domain.SortPoints(points)
	if domain.HasDuplicateKeys(points) {
		return nil, ErrDuplicateKey
	}
	return points, nil
}

// concat joins partition results in order and restores (date, symbol) order.
func concat(parts [][]*domain.FactorPoint) ([]*domain.FactorPoint, error) {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]*domain.FactorPoint, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}

	domain.SortPoints(out)
	if domain.HasDuplicateKeys(out) {
		return nil, ErrDuplicateKey
	}
	return out, nil
}

func fmtDate(t time.Time) string {
	return t.Format(time.RFC3339)
}
