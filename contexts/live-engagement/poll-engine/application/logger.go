package application

import "log/slog"

// ResolveLogger substitutes the process-default logger for components wired
// without one, so use cases and workers never have to nil-check before
// logging.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
