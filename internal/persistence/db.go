package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

// The recorder writes from one goroutine while CLI commands may read the
// same file from another process.
var pragmas = []struct {
	name string
	sql  string
}{
	{name: "set wal mode", sql: `PRAGMA journal_mode = WAL;`},
	{name: "set busy timeout", sql: `PRAGMA busy_timeout = 5000;`},
	{name: "set synchronous mode", sql: `PRAGMA synchronous = NORMAL;`},
}

// Open opens the telemetry database at path and migrates it to the current
// schema version.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}
