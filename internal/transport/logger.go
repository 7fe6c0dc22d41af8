package transport

import "log/slog"

func transportLogger(name, target string) *slog.Logger {
	logger := slog.With("component", "transport", "transport", name)
	if target == "" {
		return logger
	}

	return logger.With("target", target)
}
