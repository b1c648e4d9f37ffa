package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application logger. The audit trail of a run lives in the
// run log, not here.
type Logger struct {
	entry  *logrus.Entry
	closer io.Closer
}

// New creates a Logger writing to stdout and to a rotating file in dir.
func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %v", err)
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "notifier.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
	}
	l, err := newLogger(io.MultiWriter(os.Stdout, file), level)
	if err != nil {
		return nil, err
	}
	l.closer = file
	return l, nil
}

// NewWithWriter creates a Logger that writes only to w.
func NewWithWriter(w io.Writer, level string) (*Logger, error) {
	return newLogger(w, level)
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l, _ := newLogger(io.Discard, "error")
	return l
}

func newLogger(w io.Writer, level string) (*Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(lvl)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return &Logger{entry: logrus.NewEntry(base)}, nil
}

// WithField returns a child logger that always includes key=value.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Close flushes and closes the rotating file, if any.
func (l *Logger) Close() {
	if l.closer == nil {
		return
	}
	_ = l.closer.Close()
}
