// Package logging builds component loggers on logrus.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Factory creates loggers that share a level and an output.
type Factory struct {
	level  string
	output io.Writer
}

// New creates a factory. An unknown level falls back to info.
func New(level string, output io.Writer) *Factory {
	return &Factory{level: level, output: output}
}

// Level returns the configured level name.
func (f *Factory) Level() string {
	return f.level
}

// Get returns an entry tagged with the component name.
func (f *Factory) Get(component string) *logrus.Entry {
	log := logrus.New()
	level, err := logrus.ParseLevel(f.level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(f.output)

	return log.WithFields(logrus.Fields{
		"component": component,
	})
}
