package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// newLogger builds the process logger, format is "console" or "json".
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	sw := zerolog.SyncWriter(w)
	switch format {
	case "", "console":
		sw = zerolog.ConsoleWriter{Out: sw, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q, want console or json", format)
	}

	return zerolog.New(sw).Level(lvl).With().Timestamp().Logger(), nil
}
