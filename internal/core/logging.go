package core

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger from the logging section. Extra writers
// (such as a LogRingBuffer) receive the raw JSON lines regardless of format.
func NewLogger(cfg LoggingConfig, out io.Writer, extra ...io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	var primary io.Writer = out
	if cfg.Format != "json" {
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var w io.Writer = primary
	if len(extra) > 0 {
		w = zerolog.MultiLevelWriter(append([]io.Writer{primary}, extra...)...)
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger.Level(parseLevel(cfg.Level))
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "warn", "WARN":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
