// Package logger wires zerolog the way the rest of the pack's services do:
// a package-level Init/InitWithWriter reads LOG_LEVEL/LOG_FORMAT from the
// environment and installs the result as the global logger. Substrate
// components still take a zerolog.Logger at construction time rather than
// reaching for the global from inside package logic.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger is the process-wide logger built by Init/InitWithWriter. Read
// once at startup and passed down explicitly from there.
var Logger zerolog.Logger

// Init configures Logger to write to stdout.
func Init(serviceName string) {
	InitWithWriter(os.Stdout, serviceName)
}

// InitWithWriter configures Logger to write to w, honoring LOG_LEVEL
// (default info), LOG_FORMAT ("json" or "console", default console), and
// LOG_TIME_FORMAT (default RFC3339).
func InitWithWriter(w io.Writer, serviceName string) {
	levelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "console"
	}

	timeFormat := strings.TrimSpace(os.Getenv("LOG_TIME_FORMAT"))
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	var base zerolog.Logger
	if format == "json" {
		base = zerolog.New(w)
	} else {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
		if strings.TrimSpace(os.Getenv("LOG_COLOR")) == "0" {
			cw.NoColor = true
		}
		base = zerolog.New(cw)
	}

	l := base.With().Timestamp().Str("service", serviceName).Logger().Level(level)

	if strings.TrimSpace(os.Getenv("LOG_CALLER")) == "1" {
		l = l.With().Caller().Logger()
	}

	Logger = l
	zlog.Logger = Logger
}
