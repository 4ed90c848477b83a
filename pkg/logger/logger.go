package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var (
	currentLevel = InfoLevel
	logger       = newLogger(os.Stderr)
)

func newLogger(out io.Writer) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: !isTerminal(out)}
	return zerolog.New(console).With().Timestamp().Logger().Level(toZerolog(currentLevel))
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetOutput redirects log output. Tests use it to capture or silence logs.
func SetOutput(out io.Writer) {
	logger = newLogger(out)
}

// SetLevel sets the minimum log level that will be printed
func SetLevel(level LogLevel) {
	currentLevel = level
	logger = logger.Level(toZerolog(level))
}

// SetLevelFromString sets the log level from a string (debug, info, warn, error)
func SetLevelFromString(level string) {
	switch strings.ToLower(level) {
	case "debug":
		SetLevel(DebugLevel)
	case "info":
		SetLevel(InfoLevel)
	case "warn", "warning":
		SetLevel(WarnLevel)
	case "error":
		SetLevel(ErrorLevel)
	default:
		Warn("Unknown log level %s, using info", level)
		SetLevel(InfoLevel)
	}
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	logger.Warn().Msgf(format, v...)
}

// WithPrefix returns a logger with a prefix
func WithPrefix(prefix string) *PrefixLogger {
	return &PrefixLogger{prefix: prefix}
}

// PrefixLogger adds a prefix and optional structured fields to all log messages
type PrefixLogger struct {
	prefix string
	fields map[string]string
}

// With returns a copy of the logger carrying an extra structured field.
func (l *PrefixLogger) With(key, value string) *PrefixLogger {
	fields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &PrefixLogger{prefix: l.prefix, fields: fields}
}

func (l *PrefixLogger) event(e *zerolog.Event) *zerolog.Event {
	for k, v := range l.fields {
		e = e.Str(k, v)
	}
	return e
}

func (l *PrefixLogger) Debug(format string, v ...interface{}) {
	l.event(logger.Debug()).Msgf(l.prefix+format, v...)
}

func (l *PrefixLogger) Info(format string, v ...interface{}) {
	l.event(logger.Info()).Msgf(l.prefix+format, v...)
}

func (l *PrefixLogger) Warn(format string, v ...interface{}) {
	l.event(logger.Warn()).Msgf(l.prefix+format, v...)
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	switch currentLevel {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func init() {
	// Read log level from environment
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		SetLevelFromString(level)
	}
}
