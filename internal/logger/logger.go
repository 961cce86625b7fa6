package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger tags every entry with the owning service and the action being logged.
type Logger struct {
	entry *logrus.Entry
}

type Options struct {
	Level  string
	Format string
	Output io.Writer
}

func New(service string, opts Options) *Logger {
	base := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	base.SetOutput(out)

	if opts.Format == "text" {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000000Z07:00"})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	hostname, _ := os.Hostname()
	return &Logger{entry: base.WithFields(logrus.Fields{
		"service":  service,
		"hostname": hostname,
	})}
}

// Nop discards everything. Used by tests and zero-value wiring.
func Nop() *Logger {
	return New("nop", Options{Output: io.Discard, Level: "panic"})
}

// With returns a child logger scoped to a component.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debug(action string, fields map[string]any) {
	l.at(action, fields, nil).Debug(action)
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.at(action, fields, nil).Info(action)
}

func (l *Logger) Warn(action string, err error, fields map[string]any) {
	l.at(action, fields, err).Warn(action)
}

func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.at(action, fields, err).Error(action)
}

func (l *Logger) at(action string, fields map[string]any, err error) *logrus.Entry {
	e := l.entry.WithField("action", action)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	if err != nil {
		e = e.WithError(err)
	}
	return e
}
