package ingestion

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// DefaultBatchSize is the number of bars per InsertBulk call.
const DefaultBatchSize = 5000

// Loader writes bars into a PanelStore in batches.
type Loader struct {
	store     storage.PanelStore
	batchSize int
	logger    *log.Logger
}

// LoaderOptions contains configuration for creating a Loader.
type LoaderOptions struct {
	Store     storage.PanelStore
	BatchSize int         // Default: DefaultBatchSize
	Logger    *log.Logger // Default: discard
}

// LoadResult summarises one load.
type LoadResult struct {
	Bars    int
	Batches int
	Symbols int
	Fields  []string
	First   time.Time
	Last    time.Time
}

// NewLoader creates a new Loader.
func NewLoader(opts LoaderOptions) *Loader {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{store: opts.Store, batchSize: batchSize, logger: logger}
}

// Load sorts and validates bars, then inserts them batch by batch. Each
// batch is atomic; a failed batch stops the load and earlier batches stay
// committed. The result is never nil.
func (l *Loader) Load(ctx context.Context, bars []domain.Bar) (*LoadResult, error) {
	sorted := append([]domain.Bar(nil), bars...)
	SortBars(sorted)
	if err := ValidateBarOrdering(sorted); err != nil {
		return &LoadResult{}, fmt.Errorf("%w: duplicate (date, symbol, field) in input", err)
	}

	res := &LoadResult{Bars: len(sorted)}
	if len(sorted) == 0 {
		return res, nil
	}
	res.First, res.Last = sorted[0].Date, sorted[len(sorted)-1].Date

	symbols := make(map[string]struct{})
	fields := make(map[string]struct{})
	for _, b := range sorted {
		symbols[b.Symbol] = struct{}{}
		fields[b.Field] = struct{}{}
	}
	res.Symbols = len(symbols)
	for f := range fields {
		res.Fields = append(res.Fields, f)
	}
	sort.Strings(res.Fields)

	for lo := 0; lo < len(sorted); lo += l.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hi := min(lo+l.batchSize, len(sorted))
		if err := l.store.InsertBulk(ctx, sorted[lo:hi]); err != nil {
			return res, fmt.Errorf("insert batch %d (bars %d-%d): %w", res.Batches+1, lo, hi-1, err)
		}
		res.Batches++
		l.logger.Printf("Inserted batch %d: %d bars", res.Batches, hi-lo)
	}

	l.logger.Printf("Loaded %d bars (%d symbols, fields %v) over [%s, %s]",
		res.Bars, res.Symbols, res.Fields, res.First.Format(time.RFC3339), res.Last.Format(time.RFC3339))
	return res, nil
}

// ReadFile parses a .csv or .xlsx table. sheet applies to workbooks only.
func ReadFile(path, sheet string, freq domain.Frequency) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f, freq)
	case ".xlsx":
		return ReadXLSX(f, sheet, freq)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %s", ErrInvalidTable, filepath.Ext(path))
	}
}
