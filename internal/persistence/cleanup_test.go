package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func seedAllTables(t *testing.T, repo *TelemetryRepo, at time.Time) {
	t.Helper()

	ctx := context.Background()
	if err := repo.InsertChannelFrame(ctx, ChannelFrameRecord{RecordedAt: at, DeviceTimestamp: 1}); err != nil {
		t.Fatalf("seed channel frame: %v", err)
	}
	if err := repo.InsertStatusEvent(ctx, StatusEventRecord{RecordedAt: at, Connected: true}); err != nil {
		t.Fatalf("seed status event: %v", err)
	}
	if err := repo.InsertOverrideExpiration(ctx, OverrideExpirationRecord{RecordedAt: at, Channel: 4}); err != nil {
		t.Fatalf("seed override expiration: %v", err)
	}
	if err := repo.InsertDeviceError(ctx, DeviceErrorRecord{RecordedAt: at, Kind: "device", Message: "oops"}); err != nil {
		t.Fatalf("seed device error: %v", err)
	}
}

func TestClearDatabase_ClearsAllTables(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedAllTables(t, NewTelemetryRepo(db), time.Now())

	if err := ClearDatabase(ctx, db); err != nil {
		t.Fatalf("clear database: %v", err)
	}

	for _, table := range telemetryTables {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+";").Scan(&count); err != nil {
			t.Fatalf("count rows in %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty after clear, got %d rows", table, count)
		}
	}
}

func TestPruneOlderThan_RemovesOnlyOldRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewTelemetryRepo(db)

	now := time.Now().Truncate(time.Millisecond)
	seedAllTables(t, repo, now.Add(-80*time.Hour))
	seedAllTables(t, repo, now.Add(-time.Hour))

	removed, err := PruneOlderThan(ctx, db, now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != int64(len(telemetryTables)) {
		t.Fatalf("expected %d rows removed, got %d", len(telemetryTables), removed)
	}

	summary, err := repo.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.ChannelFrames != 1 || summary.StatusEvents != 1 || summary.OverrideExpirations != 1 || summary.DeviceErrors != 1 {
		t.Fatalf("expected one recent row per table, got %+v", summary)
	}
}

func TestOpen_MigratesOnceAndReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
	_ = db.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	_ = reopened.Close()
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.ExecContext(ctx, `PRAGMA user_version = 99;`); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = raw.Close()

	if db, err := Open(ctx, path); err == nil {
		_ = db.Close()
		t.Fatalf("expected error for schema from a newer version")
	}
}
