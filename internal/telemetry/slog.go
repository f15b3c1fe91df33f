package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog default from the logging section
// of the portal config. Deployments run with "json" so the collector can parse
// request and workflow events; any other format falls back to the text handler
// for local work against a dev database.
//
// Recognised levels are "debug", "info", "warn" and "error" (case-insensitive);
// unknown values mean info. Source locations are attached only at debug level,
// where the cost is acceptable.
//
// Installing the default once at startup lets every package log through plain
// slog.Info/Warn/Error without threading a *slog.Logger everywhere; the few
// components that want scoped attributes derive from slog.Default.
func SetupLogger(format, level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logging configured", "format", format, "level", lvl.String())
}
