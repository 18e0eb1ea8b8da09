// Package logging provides the structured logger used across the service,
// backed by logrus.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a logrus entry carrying the service name.
type Logger struct {
	*logrus.Entry
}

// New creates a logger for service. level is a logrus level name (unknown
// values fall back to info); format is "json" or "text".
func New(service, level, format string) *Logger {
	return NewWithWriter(service, level, format, os.Stdout)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(service, level, format string, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Logger{Entry: base.WithField("service", service)}
}

// Discard returns a logger that writes nothing. Useful in tests.
func Discard() *Logger {
	return NewWithWriter("discard", "panic", "json", io.Discard)
}

// WithField returns a derived logger with one more field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields returns a derived logger with extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a derived logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// LogSecurityEvent records an authorization-relevant event at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.Entry.WithContext(ctx).WithFields(logrus.Fields(fields)).WithField("security_event", event).Warn("security event")
}
