package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines a standard interface for logging.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// ZeroLogger is a wrapper around zerolog's structured logger.
type ZeroLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a new logger instance based on the specified level.
// An empty level falls back to LOG_LEVEL and then to info.
func NewLogger(level string) *ZeroLogger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger with an explicit output writer.
func NewLoggerTo(w io.Writer, level string) *ZeroLogger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	zl := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", "c2pastreamd").
		Logger()
	return &ZeroLogger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *ZeroLogger {
	return &ZeroLogger{zl: zerolog.Nop()}
}

// WithComponent returns a child logger annotated with the given component name.
func (l *ZeroLogger) WithComponent(component string) *ZeroLogger {
	return &ZeroLogger{zl: l.zl.With().Str("component", component).Logger()}
}

// With returns a child logger carrying an extra string field.
func (l *ZeroLogger) With(key, value string) *ZeroLogger {
	return &ZeroLogger{zl: l.zl.With().Str(key, value).Logger()}
}

// Zerolog exposes the underlying logger for structured call sites.
func (l *ZeroLogger) Zerolog() zerolog.Logger {
	return l.zl
}

// Debugf logs a message at the debug level.
func (l *ZeroLogger) Debugf(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

// Infof logs a message at the info level.
func (l *ZeroLogger) Infof(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Warnf logs a message at the warn level.
func (l *ZeroLogger) Warnf(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

// Errorf logs a message at the error level.
func (l *ZeroLogger) Errorf(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}
