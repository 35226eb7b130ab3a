package logging

import "log/slog"

// EnableTrace turns on per-chunk debug output. Init sets it for level TRACE.
var EnableTrace bool

// Trace logs at DEBUG level on logger when tracing is enabled.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if !EnableTrace {
		return
	}
	logger.Debug(msg, args...)
}

// TraceDefault is Trace on the default logger.
func TraceDefault(msg string, args ...any) {
	Trace(slog.Default(), msg, args...)
}
