// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. Production emits JSON at info level,
// everything else a console writer at debug. level overrides either default.
func Setup(env, level string) {
	log.Logger = New(os.Stdout, env, level)
	zerolog.SetGlobalLevel(log.Logger.GetLevel())
}

// New builds a logger writing to w.
func New(w io.Writer, env, level string) zerolog.Logger {
	lvl := zerolog.DebugLevel
	out := w
	if env == "prod" {
		lvl = zerolog.InfoLevel
	} else {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	if level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && parsed != zerolog.NoLevel {
			lvl = parsed
		}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
