package persistence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Times are stored as unix milliseconds; zero time is stored as 0.
func timeToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func unixMillisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// Channel arrays are stored as JSON text columns.
func encodeChannels(what string, values [16]int) (string, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", what, err)
	}

	return string(raw), nil
}

func decodeChannels(what, raw string, dst *[16]int) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}

	return nil
}
