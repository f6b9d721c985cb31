package clickhouse

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const createLedger = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    String,
		applied_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(applied_at)
	ORDER BY version`

// Migrate applies every *.sql file at the root of fsys that is not yet
// recorded in schema_migrations, in lexical order, and returns the applied
// versions. ClickHouse has no transactional DDL: a file that fails midway is
// not recorded, so its statements must be idempotent (IF NOT EXISTS).
func (c *Conn) Migrate(ctx context.Context, fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	if err := c.Exec(ctx, createLedger); err != nil {
		return nil, fmt.Errorf("create migration ledger: %w", err)
	}
	done, err := c.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		version := strings.TrimSuffix(path.Base(file), ".sql")
		if done[version] {
			continue
		}
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := c.ExecScript(ctx, string(data)); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", file, err)
		}
		if err := c.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", file, err)
		}
		applied = append(applied, version)
	}
	return applied, nil
}

func (c *Conn) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := c.Query(ctx, `SELECT version FROM schema_migrations FINAL`)
	if err != nil {
		return nil, fmt.Errorf("query migration ledger: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// ExecScript executes a multi-statement SQL script one statement at a time;
// the native protocol accepts a single statement per Exec.
func (c *Conn) ExecScript(ctx context.Context, script string) error {
	stmts, err := SplitStatements(script)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := c.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SplitStatements splits a script on semicolons outside single-quoted
// strings, backquoted identifiers and comments. Comments are dropped and
// empty statements skipped. An unterminated string or block comment is an
// error.
func SplitStatements(script string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			i += end + 3
			cur.WriteByte(' ')
		case ch == '\'' || ch == '`':
			j, err := quotedEnd(script, i)
			if err != nil {
				return nil, err
			}
			cur.WriteString(script[i : j+1])
			i = j
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return stmts, nil
}

// quotedEnd returns the index of the quote closing the literal opened at
// start. Backslash escapes and doubled quotes are both accepted.
func quotedEnd(s string, start int) (int, error) {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			if i+1 < len(s) && s[i+1] == q {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("unterminated quoted literal at offset %d", start)
}
