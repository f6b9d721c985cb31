// Package bootstrap wires stores, the panel source and the engine from
// configuration. It is shared by the commands under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/expr"
	"factor-lab/internal/source"
	"factor-lab/internal/storage"
	chstore "factor-lab/internal/storage/clickhouse"
	"factor-lab/internal/storage/memory"
	"factor-lab/internal/storage/migrations"
	pgstore "factor-lab/internal/storage/postgres"
)

// SyntheticSeed seeds the in-memory panel generator.
const SyntheticSeed = 42

// Stores groups the persistence backends used by the commands.
type Stores struct {
	Factors storage.FactorStore
	Panel   storage.PanelStore
	Runs    storage.RunStore
	Memory  bool

	cleanup func()
}

// Close releases database connections.
func (s *Stores) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// OpenStores creates in-memory stores or connects to PostgreSQL (panel data
// and runs) and ClickHouse (factor values), applying migrations first.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	if cfg.UseMemory {
		return &Stores{
			Factors: memory.NewFactorStore(),
			Panel:   memory.NewPanelStore(),
			Runs:    memory.NewRunStore(),
			Memory:  true,
			cleanup: func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN,
		pgstore.WithApplicationName("factor-lab"),
		pgstore.WithMaxConns(int32(cfg.Engine.Parallelism*2)), // 0 keeps the pgx default
	)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	return &Stores{
		Factors: chstore.NewFactorStore(chConn),
		Panel:   pgstore.NewPanelStore(pool),
		Runs:    pgstore.NewRunStore(pool),
		cleanup: func() {
			chConn.Close()
			pool.Close()
		},
	}, nil
}

// SeedSynthetic fills panel with a deterministic OHLCV walk for universe,
// starting pad periods before start and ending pad periods after end so
// lookback windows and forward labels are covered. It returns the number of
// bars inserted.
func SeedSynthetic(ctx context.Context, panel storage.PanelStore, universe []string, start, end time.Time, freq domain.Frequency, pad int) (int, error) {
	if len(universe) == 0 {
		return 0, fmt.Errorf("seed synthetic panel: empty universe")
	}
	first := freq.Shift(freq.Truncate(start), -pad)
	last := freq.Shift(freq.Truncate(end), pad)

	periods := 0
	for d := first; !d.After(last); d = freq.Shift(d, 1) {
		periods++
	}

	bars := source.Bars(source.Synthetic(source.SyntheticOptions{
		Universe: universe,
		Start:    first,
		Periods:  periods,
		Freq:     freq,
		Seed:     SyntheticSeed,
	}))
	if err := panel.InsertBulk(ctx, bars); err != nil {
		return 0, fmt.Errorf("seed synthetic panel: %w", err)
	}
	return len(bars), nil
}

// SeedForSpecs seeds an in-memory panel store covering [start, end] for
// every spec, padded by the largest lookback and the label horizon. It is a
// no-op for database-backed stores. All specs must share one frequency.
func SeedForSpecs(ctx context.Context, stores *Stores, universe []string, start, end time.Time, specs []*domain.FactorSpec, horizon int) (int, error) {
	if !stores.Memory || len(specs) == 0 {
		return 0, nil
	}
	freq := specs[0].Freq
	pad := horizon
	lookback := 0
	for _, s := range specs {
		if s.Freq != freq {
			return 0, fmt.Errorf("synthetic panel needs a single frequency, got %s and %s", freq, s.Freq)
		}
		if s.Lookback > lookback {
			lookback = s.Lookback
		}
	}
	pad += lookback + engine.HistoryBuffer
	return SeedSynthetic(ctx, stores.Panel, universe, start, end, freq, pad)
}

// NewSource returns an adapter over the panel store.
func NewSource(panel storage.PanelStore, logger *log.Logger) *source.Adapter {
	return source.NewAdapter(source.Options{
		Loader: source.StoreLoader(panel),
		Logger: logger,
	})
}

// NewEngine builds an engine over the factor store using the expression
// evaluator.
func NewEngine(cfg *config.Config, store storage.FactorStore, src source.Source, logger *log.Logger, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithLogger(logger),
		engine.WithParallelism(cfg.Engine.Parallelism),
	}
	return engine.New(store, src, expr.NewEvaluator(logger), append(base, opts...)...)
}
