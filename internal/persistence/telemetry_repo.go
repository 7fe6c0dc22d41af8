package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChannelFrameRecord is one recorded channels frame. Channel arrays are
// 0-based, as received.
type ChannelFrameRecord struct {
	RecordedAt      time.Time
	DeviceTimestamp int64
	Input           [16]int
	Output          [16]int
	Overrides       [16]int
	FrameLost       bool
	Failsafe        bool
}

type StatusEventRecord struct {
	RecordedAt      time.Time
	DeviceTimestamp int64
	Connected       bool
}

type OverrideExpirationRecord struct {
	RecordedAt time.Time
	Channel    int
}

type DeviceErrorRecord struct {
	RecordedAt time.Time
	Kind       string
	Message    string
}

// TelemetrySummary counts recorded rows.
type TelemetrySummary struct {
	ChannelFrames       int
	FailsafeFrames      int
	FrameLostFrames     int
	StatusEvents        int
	OverrideExpirations int
	DeviceErrors        int
}

// TelemetryRepo stores recorder output in SQLite.
type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

func (r *TelemetryRepo) InsertChannelFrame(ctx context.Context, rec ChannelFrameRecord) error {
	inputJSON, err := encodeChannels("input channels", rec.Input)
	if err != nil {
		return err
	}
	outputJSON, err := encodeChannels("output channels", rec.Output)
	if err != nil {
		return err
	}
	overridesJSON, err := encodeChannels("overrides", rec.Overrides)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO channel_frames(recorded_at, device_ts, input_json, output_json, overrides_json, frame_lost, failsafe)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`,
		timeToUnixMillis(rec.RecordedAt),
		rec.DeviceTimestamp,
		inputJSON,
		outputJSON,
		overridesJSON,
		boolToInt(rec.FrameLost),
		boolToInt(rec.Failsafe),
	)
	if err != nil {
		return fmt.Errorf("insert channel frame: %w", err)
	}

	return nil
}

func (r *TelemetryRepo) InsertStatusEvent(ctx context.Context, rec StatusEventRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO status_events(recorded_at, device_ts, connected)
		VALUES(?, ?, ?)
	`, timeToUnixMillis(rec.RecordedAt), rec.DeviceTimestamp, boolToInt(rec.Connected))
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}

	return nil
}

func (r *TelemetryRepo) InsertOverrideExpiration(ctx context.Context, rec OverrideExpirationRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO override_expirations(recorded_at, channel)
		VALUES(?, ?)
	`, timeToUnixMillis(rec.RecordedAt), rec.Channel)
	if err != nil {
		return fmt.Errorf("insert override expiration: %w", err)
	}

	return nil
}

func (r *TelemetryRepo) InsertDeviceError(ctx context.Context, rec DeviceErrorRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_errors(recorded_at, kind, message)
		VALUES(?, ?, ?)
	`, timeToUnixMillis(rec.RecordedAt), rec.Kind, rec.Message)
	if err != nil {
		return fmt.Errorf("insert device error: %w", err)
	}

	return nil
}

// RecentChannelFrames returns up to limit frames, newest first.
func (r *TelemetryRepo) RecentChannelFrames(ctx context.Context, limit int) ([]ChannelFrameRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT recorded_at, device_ts, input_json, output_json, overrides_json, frame_lost, failsafe
		FROM channel_frames
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list channel frames: %w", err)
	}
	defer rows.Close()

	var out []ChannelFrameRecord
	for rows.Next() {
		var (
			rec                            ChannelFrameRecord
			recordedMS                     int64
			inputJS, outputJS, overridesJS string
			frameLost, failsafe            int64
		)
		if err := rows.Scan(&recordedMS, &rec.DeviceTimestamp, &inputJS, &outputJS, &overridesJS, &frameLost, &failsafe); err != nil {
			return nil, fmt.Errorf("scan channel frame: %w", err)
		}
		if err := decodeChannels("input channels", inputJS, &rec.Input); err != nil {
			return nil, err
		}
		if err := decodeChannels("output channels", outputJS, &rec.Output); err != nil {
			return nil, err
		}
		if err := decodeChannels("overrides", overridesJS, &rec.Overrides); err != nil {
			return nil, err
		}
		rec.RecordedAt = unixMillisToTime(recordedMS)
		rec.FrameLost = frameLost != 0
		rec.Failsafe = failsafe != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel frames: %w", err)
	}

	return out, nil
}

func (r *TelemetryRepo) Summary(ctx context.Context) (TelemetrySummary, error) {
	var s TelemetrySummary
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM channel_frames),
			(SELECT COUNT(*) FROM channel_frames WHERE failsafe = 1),
			(SELECT COUNT(*) FROM channel_frames WHERE frame_lost = 1),
			(SELECT COUNT(*) FROM status_events),
			(SELECT COUNT(*) FROM override_expirations),
			(SELECT COUNT(*) FROM device_errors)
	`).Scan(&s.ChannelFrames, &s.FailsafeFrames, &s.FrameLostFrames, &s.StatusEvents, &s.OverrideExpirations, &s.DeviceErrors)
	if err != nil {
		return TelemetrySummary{}, fmt.Errorf("summarize telemetry: %w", err)
	}

	return s, nil
}
