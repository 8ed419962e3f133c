// Package logger holds the process-wide slog.Logger. main() configures it
// once from CLI flags; everything else reads it through L().
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var globalLogger *slog.Logger

// initOnce ensures the default logger is initialized exactly once.
var initOnce sync.Once

// L returns the configured slog.Logger. If Configure/Set hasn't been called
// yet, it returns a default text logger at INFO level to avoid nil panics.
func L() *slog.Logger {
	initOnce.Do(func() {
		if globalLogger == nil {
			handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			})
			globalLogger = slog.New(handler)
		}
	})

	return globalLogger
}

// Set replaces the global logger (primarily for tests or custom wiring).
func Set(newLogger *slog.Logger) {
	globalLogger = newLogger
}

// Configure builds and installs a slog.Logger based on CLI flags.
// format: "json" or "text" (unknown -> text)
// level:  "debug", "info", "warn", "error" (unknown -> info)
// includeTime: if false, the time attribute is removed from log records.
func Configure(format, level string, includeTime bool) *slog.Logger {
	options := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: timeStripper(includeTime),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, options)
	} else {
		handler = slog.NewTextHandler(os.Stdout, options)
	}

	configured := slog.New(handler)
	Set(configured)

	return configured
}

// timeStripper returns a ReplaceAttr function that removes the time attribute
// when includeTime is false. When includeTime is true, it returns nil (no-op).
func timeStripper(includeTime bool) func([]string, slog.Attr) slog.Attr {
	if includeTime {
		return nil
	}

	return func(_ []string, attr slog.Attr) slog.Attr {
		if attr.Key == slog.TimeKey {
			return slog.Attr{}
		}

		return attr
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
