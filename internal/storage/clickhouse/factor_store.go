package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// FactorStore implements storage.FactorStore on a ReplacingMergeTree table.
// Rows carry a version; FINAL collapses each (factor_name, date, symbol) to
// its highest version, which gives last-write-wins on read.
type FactorStore struct {
	conn *Conn

	mu          sync.Mutex
	lastVersion uint64
	now         func() time.Time
}

// NewFactorStore creates a new FactorStore.
func NewFactorStore(conn *Conn) *FactorStore {
	return &FactorStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.FactorStore = (*FactorStore)(nil)

// nextVersion returns a strictly increasing version derived from the wall clock.
func (s *FactorStore) nextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := uint64(s.now().UnixNano())
	if v <= s.lastVersion {
		v = s.lastVersion + 1
	}
	s.lastVersion = v
	return v
}

// Write inserts points at a new version. Duplicate keys within the batch are
// resolved before insert so the last one wins.
func (s *FactorStore) Write(ctx context.Context, name string, points []*domain.FactorPoint) error {
	if err := validate(name, points); err != nil {
		return err
	}
	if err := s.register(ctx, name); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	return s.insert(ctx, name, domain.DedupLastWins(points), s.nextVersion())
}

// Overwrite inserts points at a new version, then deletes every older row of
// the factor. A failed insert leaves the previous entry intact.
func (s *FactorStore) Overwrite(ctx context.Context, name string, points []*domain.FactorPoint) error {
	if err := validate(name, points); err != nil {
		return err
	}
	if err := s.register(ctx, name); err != nil {
		return err
	}

	version := s.nextVersion()
	if len(points) > 0 {
		if err := s.insert(ctx, name, domain.DedupLastWins(points), version); err != nil {
			return err
		}
	}

	err := s.conn.Exec(ctx, `
		ALTER TABLE factor_values
		DELETE WHERE factor_name = ? AND version < ?
		SETTINGS mutations_sync = 2
	`, name, version)
	if err != nil {
		return fmt.Errorf("delete superseded rows: %w", err)
	}
	return nil
}

// Read returns the collapsed entry within [start, end], ordered by (date, symbol).
func (s *FactorStore) Read(ctx context.Context, name string, start, end *time.Time) ([]*domain.FactorPoint, error) {
	var (
		where = []string{"factor_name = ?"}
		args  = []interface{}{name}
	)
	if start != nil {
		where = append(where, "date >= ?")
		args = append(args, start.UTC())
	}
	if end != nil {
		where = append(where, "date <= ?")
		args = append(args, end.UTC())
	}

	query := `
		SELECT date, symbol, value
		FROM factor_values FINAL
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY date ASC, symbol ASC
	`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query factor values: %w", err)
	}
	defer rows.Close()

	return scanFactorPoints(rows)
}

// Names returns registered factor names in ascending order.
func (s *FactorStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT factor_name FROM factor_registry
		ORDER BY factor_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query factor names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan factor name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factor names: %w", err)
	}
	return names, nil
}

func (s *FactorStore) register(ctx context.Context, name string) error {
	if err := s.conn.Exec(ctx, `INSERT INTO factor_registry (factor_name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("register factor %s: %w", name, err)
	}
	return nil
}

func (s *FactorStore) insert(ctx context.Context, name string, points []*domain.FactorPoint, version uint64) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO factor_values (factor_name, date, symbol, value, version)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(name, p.Date.UTC(), p.Symbol, p.Value, version); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func validate(name string, points []*domain.FactorPoint) error {
	if name == "" {
		return storage.ErrInvalidInput
	}
	for _, p := range points {
		if p == nil || p.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}
	return nil
}

// scanFactorPoints scans multiple rows.
func scanFactorPoints(rows driver.Rows) ([]*domain.FactorPoint, error) {
	points := make([]*domain.FactorPoint, 0)

	for rows.Next() {
		var p domain.FactorPoint
		if err := rows.Scan(&p.Date, &p.Symbol, &p.Value); err != nil {
			return nil, fmt.Errorf("scan factor value row: %w", err)
		}
		p.Date = p.Date.UTC()
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factor value rows: %w", err)
	}

	return points, nil
}
