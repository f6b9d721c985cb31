package source

import (
	"context"
	"math"
	"math/rand"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// PanelLoader serves a fixed in-memory panel. The adapter applies the
// request's range and universe.
func PanelLoader(panel *domain.Panel) Loader {
	return func(_ context.Context, _ Request) (any, error) {
		return panel, nil
	}
}

// StoreLoader loads long-format bars from a PanelStore.
func StoreLoader(store storage.PanelStore) Loader {
	return func(ctx context.Context, req Request) (any, error) {
		return store.Load(ctx, req.Universe, req.Start, req.End, req.Fields)
	}
}

// SyntheticOptions configures Synthetic.
type SyntheticOptions struct {
	Universe []string
	Start    time.Time
	Periods  int
	Freq     domain.Frequency
	Seed     int64
}

// Synthetic generates a deterministic OHLCV random walk, one row per symbol
// and period. The same options always yield the same panel.
func Synthetic(opts SyntheticOptions) *domain.Panel {
	rng := rand.New(rand.NewSource(opts.Seed))
	panel := domain.NewPanel("open", "high", "low", "close", "volume")

	for i, symbol := range opts.Universe {
		price := 100.0 + 10*float64(i)
		for p := 0; p < opts.Periods; p++ {
			open := price
			price *= math.Exp(0.02 * rng.NormFloat64())
			hi := math.Max(open, price) * (1 + 0.005*rng.Float64())
			lo := math.Min(open, price) * (1 - 0.005*rng.Float64())
			panel.Append(opts.Freq.Shift(opts.Start, p), symbol, map[string]float64{
				"open":   open,
				"high":   hi,
				"low":    lo,
				"close":  price,
				"volume": math.Round(1e6 * (0.5 + rng.Float64())),
			})
		}
	}

	panel.SortByDateSymbol()
	return panel
}

// Bars flattens a panel into long-format records, skipping null values.
func Bars(panel *domain.Panel) []domain.Bar {
	bars := make([]domain.Bar, 0, panel.Len()*len(panel.Columns))
	for _, r := range panel.Rows {
		for _, c := range panel.Columns {
			v := r.Get(c)
			if domain.IsNull(v) {
				continue
			}
			bars = append(bars, domain.Bar{Date: r.Date, Symbol: r.Symbol, Field: c, Value: v})
		}
	}
	return bars
}
