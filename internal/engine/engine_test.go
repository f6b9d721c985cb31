package engine

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/expr"
	"factor-lab/internal/observability"
	"factor-lab/internal/source"
	"factor-lab/internal/storage/memory"
)

var universe = []string{"AAA", "BBB", "CCC"}

// day returns the i-th date of the fixture, 0-based.
func day(i int) time.Time {
	return domain.Day(2024, 1, 1).AddDate(0, 0, i)
}

// fixture is 3 entities x 20 consecutive daily bars.
func fixture() *domain.Panel {
	return source.Synthetic(source.SyntheticOptions{
		Universe: universe,
		Start:    day(0),
		Periods:  20,
		Freq:     domain.FrequencyDaily,
		Seed:     42,
	})
}

// maDiffSpec is the 5-period minus 3-period moving average of close.
func maDiffSpec() *domain.FactorSpec {
	px := expr.Col("close")
	return &domain.FactorSpec{
		Name:     "ma_diff",
		Freq:     domain.FrequencyDaily,
		Inputs:   []string{"close"},
		Blocks:   []domain.TransformBlock{expr.Assign("alpha", expr.Sub(expr.TsMean(px, 5), expr.TsMean(px, 3)))},
		Output:   "alpha",
		Lookback: 5,
		Lag:      1,
	}
}

// countingSource counts fetches and can fail selected requests.
type countingSource struct {
	inner source.Source
	fail  func(req source.Request) bool

	mu    sync.Mutex
	calls int
}

func (s *countingSource) Fetch(ctx context.Context, req source.Request) (*domain.Panel, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail != nil && s.fail(req) {
		return nil, errors.New("upstream unavailable")
	}
	return s.inner.Fetch(ctx, req)
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	engine *Engine
	store  *memory.FactorStore
	src    *countingSource
}

func newHarness(t *testing.T, panel *domain.Panel, opts ...Option) *harness {
	t.Helper()
	store := memory.NewFactorStore()
	src := &countingSource{inner: source.NewAdapter(source.Options{Loader: source.PanelLoader(panel)})}
	opts = append([]Option{WithMetrics(observability.NewMetricsWith(prometheus.NewRegistry(), "test"))}, opts...)
	return &harness{
		engine: New(store, src, expr.NewEvaluator(nil), opts...),
		store:  store,
		src:    src,
	}
}

func (h *harness) read(t *testing.T, name string) []*domain.FactorPoint {
	t.Helper()
	got, err := h.store.Read(context.Background(), name, nil, nil)
	require.NoError(t, err)
	return got
}

// assertSameRows requires bit-identical (date, symbol, value) rows.
func assertSameRows(t *testing.T, want, got []*domain.FactorPoint) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		if !w.Date.Equal(g.Date) || w.Symbol != g.Symbol || math.Float64bits(w.Value) != math.Float64bits(g.Value) {
			t.Fatalf("row %d differs: want (%s, %s, %v), got (%s, %s, %v)",
				i, w.Date.Format(time.DateOnly), w.Symbol, w.Value, g.Date.Format(time.DateOnly), g.Symbol, g.Value)
		}
	}
}

func assertNoNulls(t *testing.T, points []*domain.FactorPoint) {
	t.Helper()
	for _, p := range points {
		if domain.IsNull(p.Value) {
			t.Fatalf("null value emitted for %s at %s", p.Symbol, p.Date.Format(time.DateOnly))
		}
	}
}

// weekdays returns the first n Monday to Friday dates from 2024-01-01.
func weekdays(n int) []time.Time {
	dates := make([]time.Time, 0, n)
	for d := day(0); len(dates) < n; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, d)
		}
	}
	return dates
}

// sessions returns perDay hourly bars from 09:00 on each of the first days
// weekdays. Consecutive sessions are separated by an overnight gap.
func sessions(days, perDay int) []time.Time {
	var bars []time.Time
	for _, d := range weekdays(days) {
		for h := 0; h < perDay; h++ {
			bars = append(bars, d.Add(time.Duration(9+h)*time.Hour))
		}
	}
	return bars
}

// onDates lays the fixture random walk over the given dates, in order.
func onDates(dates []time.Time) *domain.Panel {
	panel := source.Synthetic(source.SyntheticOptions{
		Universe: universe,
		Start:    day(0),
		Periods:  len(dates),
		Freq:     domain.FrequencyDaily,
		Seed:     42,
	})
	for _, r := range panel.Rows {
		r.Date = dates[int(r.Date.Sub(day(0))/(24*time.Hour))]
	}
	return panel
}

func consecutive(n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = day(i)
	}
	return dates
}

// chainedSpec computes a 5-period moving average in one block and its
// 4-period change in a second block reading the first.
func chainedSpec(lookback int) *domain.FactorSpec {
	return &domain.FactorSpec{
		Name:   "ma_change",
		Freq:   domain.FrequencyDaily,
		Inputs: []string{"close"},
		Blocks: []domain.TransformBlock{
			expr.Assign("ma", expr.TsMean(expr.Col("close"), 5)),
			expr.Assign("alpha", expr.TsDelta(expr.Col("ma"), 4)),
		},
		Output:   "alpha",
		Lookback: lookback,
	}
}

func hourly(spec *domain.FactorSpec) *domain.FactorSpec {
	spec.Freq = domain.FrequencyHourly
	return spec
}

type scenario struct {
	name  string
	dates []time.Time
	spec  *domain.FactorSpec
	// rows expected from a full run, and trailing dates recomputed incrementally
	rows int
	tail int
}

func scenarios() []scenario {
	return []scenario{
		{name: "consecutive daily", dates: consecutive(20), spec: maDiffSpec(), rows: 16 * 3, tail: 5},
		{name: "weekend gaps", dates: weekdays(20), spec: maDiffSpec(), rows: 16 * 3, tail: 5},
		{name: "overnight gaps", dates: sessions(4, 7), spec: hourly(maDiffSpec()), rows: 24 * 3, tail: 7},
		{name: "overnight gaps mid session", dates: sessions(4, 7), spec: hourly(maDiffSpec()), rows: 24 * 3, tail: 5},
		{name: "chained blocks", dates: consecutive(20), spec: chainedSpec(8), rows: 12 * 3, tail: 5},
		{name: "chained blocks over weekends", dates: weekdays(20), spec: chainedSpec(8), rows: 12 * 3, tail: 5},
	}
}

func TestScenario_AllModesAgree(t *testing.T) {
	ctx := context.Background()

	for _, sc := range scenarios() {
		t.Run(sc.name, func(t *testing.T) {
			first, last := sc.dates[0], sc.dates[len(sc.dates)-1]

			full, err := newHarness(t, onDates(sc.dates)).engine.ComputeFull(ctx, sc.spec, universe, first, last)
			require.NoError(t, err)
			require.Len(t, full, sc.rows)
			assertNoNulls(t, full)

			newDates := sc.dates[len(sc.dates)-sc.tail:]
			tailStart, tailEnd := newDates[0], last
			tail := domain.FilterDateRange(full, &tailStart, &tailEnd)
			require.Len(t, tail, sc.tail*3)

			h := newHarness(t, onDates(sc.dates))
			inc, err := h.engine.ComputeIncremental(ctx, sc.spec, universe, newDates)
			require.NoError(t, err)
			assertSameRows(t, tail, inc)
			assertSameRows(t, tail, h.read(t, sc.spec.Name))

			byDate, err := newHarness(t, onDates(sc.dates)).engine.ComputeFullByDate(ctx, sc.spec, universe, first, last, 4)
			require.NoError(t, err)
			assertSameRows(t, full, byDate)

			for _, size := range []int{1, 2, 3} {
				h := newHarness(t, onDates(sc.dates))
				byCode, err := h.engine.ComputeFullByCode(ctx, sc.spec, universe, first, last, size)
				require.NoError(t, err)
				assertSameRows(t, full, byCode)
				assertSameRows(t, full, h.read(t, sc.spec.Name))
			}
		})
	}
}

func TestComputeFullByDate_ArbitraryChunkSizes(t *testing.T) {
	ctx := context.Background()

	for _, sc := range scenarios() {
		t.Run(sc.name, func(t *testing.T) {
			first, last := sc.dates[0], sc.dates[len(sc.dates)-1]
			full, err := newHarness(t, onDates(sc.dates)).engine.ComputeFull(ctx, sc.spec, universe, first, last)
			require.NoError(t, err)

			for _, chunk := range []int{1, 3, 7, 20, 50} {
				h := newHarness(t, onDates(sc.dates), WithParallelism(3))
				got, err := h.engine.ComputeFullByDate(ctx, sc.spec, universe, first, last, chunk)
				require.NoError(t, err, "chunk %d", chunk)
				assertSameRows(t, full, got)
			}
		})
	}
}

func TestComputeIncremental_HistorySpansGaps(t *testing.T) {
	ctx := context.Background()
	spec := hourly(maDiffSpec())
	bars := sessions(4, 7)

	full, err := newHarness(t, onDates(bars)).engine.ComputeFull(ctx, spec, universe, bars[0], bars[len(bars)-1])
	require.NoError(t, err)

	// Each first bar of a session needs the whole previous session
	for _, i := range []int{7, 14, 21} {
		got, err := newHarness(t, onDates(bars)).engine.ComputeIncremental(ctx, spec, universe, []time.Time{bars[i]})
		require.NoError(t, err)
		want := domain.FilterDateRange(full, &bars[i], &bars[i])
		require.Len(t, want, 3)
		assertSameRows(t, want, got)
	}

	// Monday after a weekend
	spec = maDiffSpec()
	dates := weekdays(15)
	full, err = newHarness(t, onDates(dates)).engine.ComputeFull(ctx, spec, universe, dates[0], dates[14])
	require.NoError(t, err)
	got, err := newHarness(t, onDates(dates)).engine.ComputeIncremental(ctx, spec, universe, []time.Time{dates[10]})
	require.NoError(t, err)
	require.Equal(t, time.Monday, dates[10].Weekday())
	assertSameRows(t, domain.FilterDateRange(full, &dates[10], &dates[10]), got)
}

func TestFetchHistory_TrimsToNeededPeriods(t *testing.T) {
	ctx := context.Background()
	spec := maDiffSpec()
	dates := weekdays(20)
	h := newHarness(t, onDates(dates))

	panel, err := h.engine.fetchHistory(ctx, spec, universe, dates[15], dates[19])
	require.NoError(t, err)
	first, last, ok := panel.DateBounds()
	require.True(t, ok)
	assert.True(t, first.Equal(dates[15-spec.Lookback-HistoryBuffer]), "got %s", first.Format(time.DateOnly))
	assert.True(t, last.Equal(dates[19]))

	// Nothing before the first bar: the search stops at its limit
	panel, err = h.engine.fetchHistory(ctx, spec, universe, dates[2], dates[4])
	require.NoError(t, err)
	first, _, ok = panel.DateBounds()
	require.True(t, ok)
	assert.True(t, first.Equal(dates[0]))
	assert.Equal(t, 4, h.src.Calls())
}

func TestComputeIncremental_IdempotentAndMerging(t *testing.T) {
	ctx := context.Background()
	spec := maDiffSpec()
	h := newHarness(t, fixture())

	_, err := h.engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(10), day(11), day(12)})
	require.NoError(t, err)
	first := h.read(t, spec.Name)

	_, err = h.engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(12), day(10)})
	require.NoError(t, err)
	assertSameRows(t, first, h.read(t, spec.Name))

	// Overlapping window extends the entry without duplicates
	_, err = h.engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(12), day(13)})
	require.NoError(t, err)
	got := h.read(t, spec.Name)
	assert.Len(t, got, 4*3)
	assert.False(t, domain.HasDuplicateKeys(got))

	full, err := newHarness(t, fixture()).engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	lo, hi := day(10), day(13)
	assertSameRows(t, domain.FilterDateRange(full, &lo, &hi), got)
}

func TestComputeIncremental_NoDates(t *testing.T) {
	h := newHarness(t, fixture())

	got, err := h.engine.ComputeIncremental(context.Background(), maDiffSpec(), universe, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, h.src.Calls())
}

func TestGuard_RejectsUnboundedWindow(t *testing.T) {
	ctx := context.Background()
	spec := &domain.FactorSpec{
		Name:     "cum_ret",
		Freq:     domain.FrequencyDaily,
		Inputs:   []string{"close"},
		Blocks:   []domain.TransformBlock{expr.Assign("cum", expr.TsCumSum(expr.TsDelta(expr.Col("close"), 1)))},
		Output:   "cum",
		Lookback: 5,
	}

	h := newHarness(t, fixture())
	seed := []*domain.FactorPoint{{Date: day(0), Symbol: "AAA", Value: 1}}
	require.NoError(t, h.store.Overwrite(ctx, spec.Name, seed))

	_, err := h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 4)
	require.ErrorIs(t, err, ErrUnsafeChunking)
	assert.Equal(t, 0, h.src.Calls(), "guard must run before any fetch")
	assertSameRows(t, seed, h.read(t, spec.Name))

	full, err := h.engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	assert.Len(t, full, 19*3)

	byCode, err := newHarness(t, fixture()).engine.ComputeFullByCode(ctx, spec, universe, day(0), day(19), 2)
	require.NoError(t, err)
	assertSameRows(t, full, byCode)

	_, err = h.engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(19)})
	assert.ErrorIs(t, err, ErrUnsafeIncremental)
}

func TestGuard_RejectsDepthBeyondLookback(t *testing.T) {
	spec := maDiffSpec()
	spec.Lookback = 3

	h := newHarness(t, fixture())
	_, err := h.engine.ComputeFullByDate(context.Background(), spec, universe, day(0), day(19), 4)
	assert.ErrorIs(t, err, ErrUnsafeChunking)
	assert.Equal(t, 0, h.src.Calls())
}

// runningSum is an opaque per-entity cumulative sum of close.
func runningSum() *expr.FuncBlock {
	return expr.Func("running_sum", []string{"close"}, "alpha", func(p *domain.Panel) ([]float64, error) {
		out := make([]float64, len(p.Rows))
		sums := make(map[string]float64)
		for i, r := range p.Rows {
			sums[r.Symbol] += r.Get("close")
			out[i] = sums[r.Symbol]
		}
		return out, nil
	})
}

func TestGuard_OpaqueBlocks(t *testing.T) {
	ctx := context.Background()
	spec := &domain.FactorSpec{
		Name:   "running_close",
		Freq:   domain.FrequencyDaily,
		Inputs: []string{"close"},
		Blocks: []domain.TransformBlock{runningSum()},
		Output: "alpha",
	}

	full, err := newHarness(t, fixture()).engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	require.Len(t, full, 20*3)

	h := newHarness(t, fixture())
	_, err = h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 4)
	assert.ErrorIs(t, err, ErrUnsafeChunking)
	assert.Equal(t, 0, h.src.Calls())

	// Per-entity history is complete in every batch
	var logs bytes.Buffer
	for _, size := range []int{1, 2} {
		h := newHarness(t, fixture(), WithLogger(log.New(&logs, "", 0)))
		byCode, err := h.engine.ComputeFullByCode(ctx, spec, universe, day(0), day(19), size)
		require.NoError(t, err, "batch %d", size)
		assertSameRows(t, full, byCode)
	}
	assert.Contains(t, logs.String(), "WARN: running_close has blocks without a declared window")

	// A declared window makes opaque code chunkable
	passthrough := expr.Func("passthrough", []string{"close"}, "alpha", func(p *domain.Panel) ([]float64, error) {
		out := make([]float64, len(p.Rows))
		for i, r := range p.Rows {
			out[i] = r.Get("close")
		}
		return out, nil
	})
	spec.Blocks = []domain.TransformBlock{expr.Declare(passthrough, domain.Window{})}
	full, err = h.engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	byDate, err := h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 6)
	require.NoError(t, err)
	assertSameRows(t, full, byDate)
}

func TestGuard_ChainedDepthBeyondLookback(t *testing.T) {
	ctx := context.Background()
	// Each block fits in 5 periods, the chain needs 8
	spec := chainedSpec(5)

	full, err := newHarness(t, fixture()).engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	require.Len(t, full, 12*3)

	h := newHarness(t, fixture())
	seed := []*domain.FactorPoint{{Date: day(0), Symbol: "AAA", Value: 1}}
	require.NoError(t, h.store.Overwrite(ctx, spec.Name, seed))

	_, err = h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 4)
	require.ErrorIs(t, err, ErrUnsafeChunking)
	assert.Contains(t, err.Error(), "needs 8 periods")
	_, err = h.engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(15), day(19)})
	require.ErrorIs(t, err, ErrUnsafeIncremental)
	assert.Equal(t, 0, h.src.Calls())
	assertSameRows(t, seed, h.read(t, spec.Name))

	byCode, err := h.engine.ComputeFullByCode(ctx, spec, universe, day(0), day(19), 2)
	require.NoError(t, err)
	assertSameRows(t, full, byCode)
}

func TestCrossSectional_ByDateOnly(t *testing.T) {
	ctx := context.Background()
	spec := &domain.FactorSpec{
		Name:     "mom_rank",
		Freq:     domain.FrequencyDaily,
		Inputs:   []string{"close"},
		Blocks:   []domain.TransformBlock{expr.Assign("rank", expr.CsRank(expr.TsDelta(expr.Col("close"), 3)))},
		Output:   "rank",
		Lookback: 3,
	}

	h := newHarness(t, fixture())
	full, err := h.engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)

	byDate, err := h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 5)
	require.NoError(t, err)
	assertSameRows(t, full, byDate)

	_, err = h.engine.ComputeFullByCode(ctx, spec, universe, day(0), day(19), 1)
	assert.ErrorIs(t, err, ErrUnsafeBatching)
	assertSameRows(t, byDate, h.read(t, spec.Name))
}

func TestNullRowsDroppedInEveryMode(t *testing.T) {
	ctx := context.Background()
	panel := fixture()
	// Knock out one observation in the middle of BBB
	for _, r := range panel.Rows {
		if r.Symbol == "BBB" && r.Date.Equal(day(10)) {
			r.Values["close"] = domain.Null
		}
	}
	spec := maDiffSpec()

	full, err := newHarness(t, panel).engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	assertNoNulls(t, full)
	// BBB loses the 5 dates whose 5-period window covers day 10
	assert.Len(t, full, 16*3-5)

	byDate, err := newHarness(t, panel).engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 4)
	require.NoError(t, err)
	assertSameRows(t, full, byDate)

	byCode, err := newHarness(t, panel).engine.ComputeFullByCode(ctx, spec, universe, day(0), day(19), 2)
	require.NoError(t, err)
	assertSameRows(t, full, byCode)

	inc, err := newHarness(t, panel).engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(8), day(16)})
	require.NoError(t, err)
	assertNoNulls(t, inc)
	lo, hi := day(8), day(16)
	assertSameRows(t, domain.FilterDateRange(full, &lo, &hi), inc)
}

func TestSchemaError_StoreUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fixture())
	seed := []*domain.FactorPoint{{Date: day(0), Symbol: "AAA", Value: 1}}

	missingInput := maDiffSpec()
	missingInput.Inputs = []string{"close", "vwap"}
	require.NoError(t, h.store.Overwrite(ctx, missingInput.Name, seed))

	_, err := h.engine.ComputeFull(ctx, missingInput, universe, day(0), day(19))
	require.ErrorIs(t, err, ErrSchema)
	assertSameRows(t, seed, h.read(t, missingInput.Name))

	wrongOutput := maDiffSpec()
	wrongOutput.Output = "beta"
	_, err = h.engine.ComputeFullByDate(ctx, wrongOutput, universe, day(0), day(19), 4)
	require.ErrorIs(t, err, ErrSchema)
	assertSameRows(t, seed, h.read(t, wrongOutput.Name))
}

func TestPartialFailure_StoreUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fixture())
	h.src.fail = func(req source.Request) bool { return req.End.Equal(day(11)) }

	spec := maDiffSpec()
	seed := []*domain.FactorPoint{{Date: day(0), Symbol: "AAA", Value: 1}}
	require.NoError(t, h.store.Overwrite(ctx, spec.Name, seed))

	_, err := h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 4)
	require.Error(t, err)
	assertSameRows(t, seed, h.read(t, spec.Name))
}

func TestEmptyResult_ClearsEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fixture())
	spec := maDiffSpec()

	_, err := h.engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	require.NotEmpty(t, h.read(t, spec.Name))

	// A range with no data in the panel
	got, err := h.engine.ComputeFull(ctx, spec, universe, day(100), day(120))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, h.read(t, spec.Name))
}

func TestInvalidRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fixture())
	spec := maDiffSpec()

	_, err := h.engine.ComputeFull(ctx, spec, nil, day(0), day(19))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.engine.ComputeFull(ctx, spec, universe, day(19), day(0))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.engine.ComputeFullByDate(ctx, spec, universe, day(0), day(19), 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.engine.ComputeFullByCode(ctx, spec, universe, day(0), day(19), 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.engine.ComputeFull(ctx, &domain.FactorSpec{Name: "x"}, universe, day(0), day(19))
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)
}

// keyRecorder is an evaluator that records the entity key it receives.
type keyRecorder struct {
	key  string
	seen string
}

func (k *keyRecorder) Evaluate(_ context.Context, p *domain.Panel, blocks []domain.TransformBlock) (*domain.Panel, error) {
	k.seen = p.EntityKey
	out := p.Clone()
	for _, r := range out.Rows {
		r.Values["alpha"] = r.Get("close")
	}
	out.AddColumn("alpha")
	return out, nil
}

func (k *keyRecorder) Inspect(domain.TransformBlock) (domain.Window, error) {
	return domain.Window{}, nil
}

type keyedRecorder struct{ keyRecorder }

func (k *keyedRecorder) EntityKey() string { return k.key }

func TestEntityKeyRename(t *testing.T) {
	ctx := context.Background()
	spec := maDiffSpec()
	src := source.NewAdapter(source.Options{Loader: source.PanelLoader(fixture())})
	metrics := WithMetrics(observability.NewMetricsWith(prometheus.NewRegistry(), "test"))

	plain := &keyRecorder{}
	_, err := New(memory.NewFactorStore(), src, plain, metrics).ComputeFull(ctx, spec, universe, day(0), day(1))
	require.NoError(t, err)
	assert.Equal(t, domain.ColumnSymbol, plain.seen)

	keyed := &keyedRecorder{keyRecorder{key: "asset"}}
	got, err := New(memory.NewFactorStore(), src, keyed, metrics).ComputeFull(ctx, spec, universe, day(0), day(1))
	require.NoError(t, err)
	assert.Equal(t, "asset", keyed.seen)
	assert.Len(t, got, 6)
	assert.Equal(t, "AAA", got[0].Symbol)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []StoreEvent
}

func (n *recordingNotifier) Notify(ev StoreEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	h := newHarness(t, fixture(), WithNotifier(notifier))
	spec := maDiffSpec()

	_, err := h.engine.ComputeFull(ctx, spec, universe, day(0), day(19))
	require.NoError(t, err)
	_, err = h.engine.ComputeIncremental(ctx, spec, universe, []time.Time{day(19)})
	require.NoError(t, err)

	require.Len(t, notifier.events, 2)
	assert.Equal(t, ModeFull, notifier.events[0].Mode)
	assert.Equal(t, "overwrite", notifier.events[0].Op)
	assert.Equal(t, 48, notifier.events[0].Rows)
	assert.Equal(t, "write", notifier.events[1].Op)
	assert.Equal(t, 3, notifier.events[1].Rows)
}
