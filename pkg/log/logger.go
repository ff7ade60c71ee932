package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger creates the process logger. An unparsable level falls back to info
// and is reported through the returned logger.
func NewLogger(levelStr string, out io.Writer, jsonFormat bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	}
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
		return log
	}
	log.SetLevel(level)
	log.Debugf("Log level set to %s", level)
	return log
}
