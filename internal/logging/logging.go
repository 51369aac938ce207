// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level  string // logrus level name; default info
	Format string // "text" or "json"
	Output io.Writer
}

// New builds a logger and installs the same settings on the logrus standard
// logger, so package-level logrus calls agree with injected loggers.
func New(o Options) *logrus.Logger {
	l := logrus.New()
	configure(l, o)
	configure(logrus.StandardLogger(), o)
	return l
}

func configure(l *logrus.Logger, o Options) {
	level, err := logrus.ParseLevel(strings.TrimSpace(o.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(o.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if o.Output != nil {
		l.SetOutput(o.Output)
	} else {
		l.SetOutput(os.Stdout)
	}
}
