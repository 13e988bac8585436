// Package obslog provides the logrus-backed logger shared by the
// transport, session, catch-all detector, pipeline, config loader and
// cmd/worker.
package obslog

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableQuote:    true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(os.Stdout)
	l.SetLevel(levelFromEnv())
	return l
}

func levelFromEnv() logrus.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "TRACE":
		return logrus.TraceLevel
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	}
	if os.Getenv("DEBUG") != "" {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

// Default returns the package-level logger. Components do not take a
// logger of their own; they all log through this one.
func Default() *logrus.Logger {
	return std
}

// SetOutput redirects the default logger's output away from os.Stdout.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// WithField is a convenience wrapper so call sites don't need to import
// logrus just to attach one piece of context.
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}
