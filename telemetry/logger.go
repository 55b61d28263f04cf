// Package telemetry provides the production logger and the OTel-backed
// tracing/metrics provider.
package telemetry

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/concordlabs/concord/core"
)

// Logger implements core.Logger on logrus with structured fields
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger from configuration. Format "json" emits
// one JSON object per line; anything else uses the text formatter.
func NewLogger(cfg core.LoggingConfig, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: base.WithField("component", component)}
}

// WithComponent returns a logger tagged for another component sharing
// the same backend
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Error(msg)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Warn(msg)
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}
