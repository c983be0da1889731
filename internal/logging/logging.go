// Package logging builds the process-wide structured logger: JSON output
// by default, a human-readable console writer for local development, a
// global level switch, and an optional rotating file sink.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Format selects the on-disk/console encoding of log records.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls logger construction. LogFile, when non-empty, adds a
// rotating file sink alongside stdout.
type Config struct {
	Level      string
	Format     Format
	LogFile    string // empty disables file rotation
	MaxSizeMB  int    // per-file size before rotation, default 100
	MaxBackups int    // retained rotated files, default 7
	MaxAgeDays int    // retention window, default 28
}

// New builds a zerolog.Logger from cfg and installs it as the package-level
// default (github.com/rs/zerolog/log) so unscoped log.Info()/log.Error()
// calls elsewhere in the process pick it up.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Format == FormatPretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		writers = append(writers, os.Stdout)
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return zerolog.Logger{}, err
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 7
		}
		maxAge := cfg.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 28
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).
		With().
		Timestamp().
		Str("service", "newsdigest").
		Logger()

	log.Logger = logger
	return logger, nil
}

// WithFields is shorthand for attaching a map of context fields to an
// event.
func WithFields(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
