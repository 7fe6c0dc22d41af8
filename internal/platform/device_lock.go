// Package platform holds OS-specific helpers.
package platform

import (
	"errors"
	"strings"
)

// ErrDeviceBusy indicates another process already holds the lock for a device.
var ErrDeviceBusy = errors.New("device is in use by another process")

// DeviceLock is a held per-device lock. Two clients on one device would
// interleave commands and replies on the same line stream.
type DeviceLock interface {
	Release() error
}

// AcquireDeviceLock takes a non-blocking, process-lifetime lock on target,
// e.g. "/dev/ttyACM0@115200" or "10.0.0.5:2000".
func AcquireDeviceLock(appID, target string) (DeviceLock, error) {
	return acquireDeviceLock(
		normalizeLockComponent(appID, "app"),
		normalizeLockComponent(deviceKey(target), "device"),
	)
}

// deviceKey drops the serial baud so that one port is locked regardless of
// the rate it is opened with.
func deviceKey(target string) string {
	target = strings.TrimSpace(target)
	if port, _, ok := strings.Cut(target, "@"); ok {
		return port
	}

	return target
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
