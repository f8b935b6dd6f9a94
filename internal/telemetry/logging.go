package telemetry

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/kronos/internal/config"
)

// NewLogger builds the process logger on stderr.
func NewLogger(cfg config.LogConfig, component string) zerolog.Logger {
	return NewLoggerTo(os.Stderr, cfg, component)
}

// NewLoggerTo builds a logger writing to out. Unknown levels fall back to info
// and any format other than "json" writes human-readable console output.
func NewLoggerTo(out io.Writer, cfg config.LogConfig, component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	writer := out
	if !strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger()
}
