// Package logging builds the zerolog logger of an environment.
//
// Environment variables override the configured values:
//
//	TELWIRE_LOG_LEVEL      trace, debug, info, warn, error, disabled
//	TELWIRE_LOG_TIMESTAMP  true/false
//	TELWIRE_LOG_NOCOLOR    true/false
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/config"
)

const (
	EnvLogLevel     = "TELWIRE_LOG_LEVEL"
	EnvLogTimestamp = "TELWIRE_LOG_TIMESTAMP"
	EnvLogNoColor   = "TELWIRE_LOG_NOCOLOR"
)

// New returns a logger writing to stderr.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter returns a logger writing to w: human-readable when
// cfg.Console is set, JSON otherwise.
func NewWithWriter(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	applyEnvOverrides(&cfg)

	out := w
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: w, NoColor: cfg.NoColor, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}

	return ctx.Logger()
}

func applyEnvOverrides(cfg *config.LogConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// parseLevel falls back to info for empty or unknown names.
func parseLevel(raw string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}

	return lvl
}

func parseBool(raw string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}

	return v, true
}
