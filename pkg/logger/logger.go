package logger

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	WithContext(ctx context.Context) Logger
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
}

type Field struct {
	Key   string
	Value interface{}
}

type Fields map[string]interface{}

// Err is shorthand for the "error" field every caller attaches on failure paths.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// New logs to stdout.
func New(level, format string) Logger {
	return FromLogrus(NewLogrus(level, format, os.Stdout))
}

// NewLogrus builds the raw logrus logger that services hand to their handlers.
// Unknown levels fall back to info; any format other than "json" is text.
func NewLogrus(level, format string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano, FullTimestamp: true})
	}
	return log
}

// FromLogrus adapts log so packages written against Logger share its output.
func FromLogrus(log *logrus.Logger) Logger {
	return entryLogger{entry: logrus.NewEntry(log)}
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l entryLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l entryLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l entryLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l entryLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }
func (l entryLogger) Fatal(msg string, fields ...Field) { l.with(fields).Fatal(msg) }

func (l entryLogger) WithContext(ctx context.Context) Logger {
	return entryLogger{entry: l.entry.WithContext(ctx)}
}

func (l entryLogger) WithField(key string, value interface{}) Logger {
	return entryLogger{entry: l.entry.WithField(key, value)}
}

func (l entryLogger) WithFields(fields Fields) Logger {
	return entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l entryLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

type holder struct{ Logger }

var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(holder{New("info", "json")})
}

// SetDefault replaces the logger behind the package-level helpers. Safe to
// call while other goroutines log.
func SetDefault(l Logger) {
	defaultLogger.Store(holder{l})
}

func Default() Logger {
	return defaultLogger.Load().(holder).Logger
}

func Info(msg string, fields ...Field)  { Default().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { Default().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { Default().Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { Default().Fatal(msg, fields...) }
