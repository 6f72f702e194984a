// Package logger provides the structured logging surface used throughout the
// driver core. It is a deliberately small subset of nabbar-golib/logger's
// Logger interface — level-based methods plus a Fields-carrying child logger
// — backed by logrus rather than that package's full hookfile/syslog/gorm
// stack, which this module has no use for.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields carries structured key/value context attached to a log entry,
// mirroring nabbar-golib/logger/fields.Fields.
type Fields map[string]any

// Logger is the logging capability the rest of the driver depends on. The
// session's retry backoffs and rollback failures log through this interface
// rather than a package-global; the pool, protocol engine and routing layer
// do not log.
type Logger interface {
	// WithFields returns a child logger that always includes field.
	WithFields(field Fields) Logger

	Debug(message string, field Fields)
	Info(message string, field Fields)
	Warn(message string, field Fields)
	Error(message string, err error, field Fields)
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger writing JSON lines to w at the given level name
// ("debug", "info", "warn", "error"; invalid names fall back to "info").
func New(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Discard returns a Logger that drops every entry, used as the default when
// the caller supplies no logger.
func Discard() Logger {
	return New(io.Discard, "panic")
}

// Stderr returns a Logger writing to os.Stderr at info level, a convenient
// default for the boltping CLI.
func Stderr() Logger {
	return New(os.Stderr, "info")
}

func (l *logrusLogger) WithFields(field Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(field))}
}

func (l *logrusLogger) Debug(message string, field Fields) {
	l.entry.WithFields(logrus.Fields(field)).Debug(message)
}

func (l *logrusLogger) Info(message string, field Fields) {
	l.entry.WithFields(logrus.Fields(field)).Info(message)
}

func (l *logrusLogger) Warn(message string, field Fields) {
	l.entry.WithFields(logrus.Fields(field)).Warn(message)
}

func (l *logrusLogger) Error(message string, err error, field Fields) {
	e := l.entry.WithFields(logrus.Fields(field))
	if err != nil {
		e = e.WithField("error", err.Error())
	}
	e.Error(message)
}
