package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// openSQLite opens the metadata database at path, applying the pragmas
// diskcache-server needs for durability and read/write concurrency under
// a single writer, many readers workload.
func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite: path is empty")
	}

	dsn := path + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The mattn/go-sqlite3 driver doesn't support true connection
	// pooling against a single file well under WAL; cap it so we don't
	// pay lock-contention cost opening new connections under load.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// applyPragmas favors write throughput: entries are re-creatable cache
// data, not a source of truth, so synchronous=NORMAL (safe under WAL,
// durable across process crashes, but not against an OS crash mid-write)
// is an acceptable tradeoff over the fsync-per-commit cost of FULL.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA cache_size = -20000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			mode INTEGER NOT NULL,
			inline_value BLOB,
			filename TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL,
			digest TEXT NOT NULL,
			tag BLOB,
			expire_time INTEGER NOT NULL DEFAULT 0,
			store_time INTEGER NOT NULL,
			access_time INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		"CREATE INDEX IF NOT EXISTS idx_entries_expire_time ON entries(expire_time)",
		"CREATE INDEX IF NOT EXISTS idx_entries_store_time ON entries(store_time)",
		"CREATE INDEX IF NOT EXISTS idx_entries_access_time ON entries(access_time)",
		"CREATE INDEX IF NOT EXISTS idx_entries_access_count ON entries(access_count)",
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}

	return nil
}
