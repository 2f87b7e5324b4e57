package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/coffersTech/loghell/internal/config"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init configures the global logger once at startup.
//
// LOG_PRETTY switches between JSON lines on stdout and a colored console
// writer. Every line carries the service name and instance id, and output
// of the standard library log package is routed through zerolog too.
func Init(cfg config.Config) {
	New(cfg, os.Stdout)
}

// New builds the logger for cfg writing to out, installs it globally and
// returns it.
func New(cfg config.Config, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	zlog.Logger = logger
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)
	return logger
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return zlog.Logger.With().Str("component", name).Logger()
}
