// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/prn-tf/kvs-ingest/internal/config"
)

// ServiceName is attached to every log line.
const ServiceName = "kvs-ingest"

// Init configures the global logger from cfg and returns it. Standard
// library log output is redirected to it.
func Init(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	out, err := output(cfg.Output)
	if err != nil {
		return zerolog.Nop(), err
	}

	var w io.Writer = out
	if cfg.Format == "console" {
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = "15:04:05"
		}
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	logger := New(w, level)

	zlog.Logger = logger
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	return logger, nil
}

// New builds a logger writing to w with the service field attached.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName).
		Logger()
}

func output(name string) (io.Writer, error) {
	switch name {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", name, err)
		}
		return f, nil
	}
}
