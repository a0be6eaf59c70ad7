package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger writes structured key/value logs. Arguments after msg are read as
// alternating keys and values.
type Logger struct {
	z zerolog.Logger
}

// Options controls how NewLogger builds its output.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Out    io.Writer
}

// NewLogger creates a new Logger writing to stdout at info level.
func NewLogger() *Logger {
	return NewLoggerWithOptions(Options{})
}

// NewLoggerWithOptions creates a Logger and installs it as the zerolog global
// logger so packages logging through zerolog/log share its output.
func NewLoggerWithOptions(opts Options) *Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	z := zerolog.New(out).Level(level).With().Timestamp().Logger()
	zlog.Logger = z
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// With returns a child Logger that always carries the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{z: l.z.With().Fields(args).Logger()}
}

// Zerolog exposes the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.z
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.z.Info().Fields(args).Msg(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.z.Warn().Fields(args).Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.z.Error().Fields(args).Msg(msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.z.Debug().Fields(args).Msg(msg)
}
