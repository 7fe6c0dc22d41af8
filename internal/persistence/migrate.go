package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS channel_frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at INTEGER NOT NULL,
		device_ts INTEGER NOT NULL,
		input_json TEXT NOT NULL,
		output_json TEXT NOT NULL,
		overrides_json TEXT NOT NULL,
		frame_lost INTEGER NOT NULL,
		failsafe INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_channel_frames_recorded_at ON channel_frames(recorded_at);`,

	`CREATE TABLE IF NOT EXISTS status_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at INTEGER NOT NULL,
		device_ts INTEGER NOT NULL,
		connected INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_status_events_recorded_at ON status_events(recorded_at);`,

	`CREATE TABLE IF NOT EXISTS override_expirations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at INTEGER NOT NULL,
		channel INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS device_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_override_expirations_recorded_at ON override_expirations(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_device_errors_recorded_at ON device_errors(recorded_at);`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i+1, migrations[i]); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("apply migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, version)); err != nil {
		return fmt.Errorf("set schema version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}

	return nil
}
