package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/turbot/pipe-fittings/constants"
	"github.com/turbot/pipe-fittings/sanitize"

	sp_constants "github.com/turbot/shardpipe/constants"
)

// Initialize sets the default slog logger for the given application
func Initialize(appName string) {
	slog.SetDefault(NewLogger(appName, os.Stderr))
}

// NewLogger returns a logger that writes JSON to w and sanitizes log entries
// the level is read from the SHARDPIPE_LOG_LEVEL environment variable, defaulting to warn
func NewLogger(appName string, w io.Writer) *slog.Logger {
	level := getLogLevel()
	if level == constants.LogLevelOff {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	}

	handlerOptions := &slog.HandlerOptions{
		Level: level,

		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			sanitized := sanitize.Instance.SanitizeKeyValue(a.Key, a.Value.Any())

			return slog.Attr{
				Key:   a.Key,
				Value: slog.AnyValue(sanitized),
			}
		},
	}
	return slog.New(slog.NewJSONHandler(w, handlerOptions)).With("source", appName)
}

func getLogLevel() slog.Leveler {
	levelEnv := os.Getenv(sp_constants.EnvLogLevel)

	switch strings.ToLower(levelEnv) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "off":
		return constants.LogLevelOff
	default:
		return slog.LevelWarn
	}
}
