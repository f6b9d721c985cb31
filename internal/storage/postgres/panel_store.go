package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// PanelStore implements storage.PanelStore using PostgreSQL.
type PanelStore struct {
	pool *Pool
}

// NewPanelStore creates a new PanelStore.
func NewPanelStore(pool *Pool) *PanelStore {
	return &PanelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PanelStore = (*PanelStore)(nil)

// InsertBulk copies bars in one transaction. Fails entire batch on any duplicate.
func (s *PanelStore) InsertBulk(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"panel_values"},
			[]string{"date", "symbol", "field", "value"},
			pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
				b := bars[i]
				if b.Symbol == "" || b.Field == "" {
					return nil, storage.ErrInvalidInput
				}
				return []any{b.Date.UTC(), b.Symbol, b.Field, b.Value}, nil
			}),
		)
		return err
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("copy panel values: %w", err)
	}
	return nil
}

// Load retrieves bars within [start, end] ordered by (date, symbol, field).
// An empty universe or field list matches everything.
func (s *PanelStore) Load(ctx context.Context, universe []string, start, end time.Time, fields []string) ([]domain.Bar, error) {
	query := `
		SELECT date, symbol, field, value
		FROM panel_values
		WHERE date >= $1 AND date <= $2
		  AND (cardinality($3::text[]) = 0 OR symbol = ANY($3))
		  AND (cardinality($4::text[]) = 0 OR field = ANY($4))
		ORDER BY date ASC, symbol ASC, field ASC
	`

	rows, err := s.pool.Query(ctx, query, start.UTC(), end.UTC(), nonNil(universe), nonNil(fields))
	if err != nil {
		return nil, fmt.Errorf("load panel values: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// scanBars scans multiple rows into a slice of Bar.
func scanBars(rows pgx.Rows) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 0)

	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Date, &b.Symbol, &b.Field, &b.Value); err != nil {
			return nil, fmt.Errorf("scan panel value: %w", err)
		}
		b.Date = b.Date.UTC()
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate panel values: %w", err)
	}

	return bars, nil
}

// nonNil keeps nil slices from being sent as SQL NULL.
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
