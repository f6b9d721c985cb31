// Package migrations embeds the Postgres and ClickHouse schemas and applies
// them through the stores' ledger-based migrators.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Postgres returns the Postgres migration files at the root of the FS.
func Postgres() fs.FS {
	return sub("postgres")
}

// Clickhouse returns the ClickHouse migration files at the root of the FS.
func Clickhouse() fs.FS {
	return sub("clickhouse")
}

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// dir is a compile-time embed pattern
		panic(err)
	}
	return f
}
