// Package logging builds the logrus logger used by the server: a new
// logger with a level, a text formatter, and a per-component field. It
// does not modify logrus's package-level standard logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger at levelName (debug/info/warn/error;
// unrecognized names fall back to info), writing to out.
func New(levelName string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(levelName)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// WithComponent returns an entry tagging every subsequent message with
// component, the way the server tags its per-session log lines with a
// correlation id.
func WithComponent(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}
