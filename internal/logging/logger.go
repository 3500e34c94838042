// Package logging builds the process logger from the log section of goose.yml.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"goose/internal/config"
)

// New returns a timestamped zerolog logger writing to w, or stderr when w is
// nil. The console format is meant for terminals; json is the default.
func New(cfg config.Log, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}
	switch cfg.Format {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
