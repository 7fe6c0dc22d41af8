package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// BeeepSender shows desktop notifications through gen2brain/beeep.
type BeeepSender struct {
	logger *slog.Logger
	notify func(title, message string, icon any) error
}

func NewBeeepSender(appName string, logger *slog.Logger) *BeeepSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications.beeep")
	}
	if appName != "" {
		beeep.AppName = appName
	}

	return &BeeepSender{logger: logger, notify: beeep.Notify}
}

// Send never fails the caller; headless systems without a notification
// daemon only get a debug log record.
func (s *BeeepSender) Send(payload Payload) {
	if err := s.notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Debug("desktop notification failed", "title", payload.Title, "error", err)
	}
}
