package app

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/model"
)

// NewLogger builds the process logger. Format "json" writes one JSON
// object per line; anything else uses the console writer.
func NewLogger(cfg model.LogConfig, w io.Writer, verbose bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
