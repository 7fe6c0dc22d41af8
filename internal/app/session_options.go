package app

import (
	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/device"
)

// SessionOptions maps persisted session settings to device options.
func SessionOptions(cfg config.SessionConfig) device.Options {
	cfg = cfg.WithDefaults()

	return device.Options{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		ResponseTimeout:  cfg.ResponseTimeout(),
		StopTimeout:      cfg.StopTimeout(),
		ErrorBackoff:     device.DefaultErrorBackoff,
		MaxLineLength:    cfg.MaxLineLength,
		SkipUnsolicited:  cfg.SkipUnsolicited,
	}
}
