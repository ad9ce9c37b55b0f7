// Package logging configures the process logger.
package logging

import (
	"bytes"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// New returns a logger writing to w (stderr when nil). Cron mode prefixes
// every line with a timestamp and level; interactive mode prints bare
// messages and marks errors.
func New(w io.Writer, cron bool) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	logger := log.New()
	logger.SetOutput(w)
	logger.SetLevel(log.InfoLevel)

	if cron {
		logger.SetFormatter(&log.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&plainFormatter{})
	}

	return logger
}

// plainFormatter prints only the message, plus "error: " / "warning: "
// prefixes and any fields as key=value pairs.
type plainFormatter struct{}

func (f *plainFormatter) Format(e *log.Entry) ([]byte, error) {
	var b bytes.Buffer

	switch e.Level {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		b.WriteString("error: ")
	case log.WarnLevel:
		b.WriteString("warning: ")
	}
	b.WriteString(e.Message)

	for _, k := range sortedKeys(e.Data) {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fieldValue(e.Data[k]))
	}
	b.WriteByte('\n')

	return b.Bytes(), nil
}
