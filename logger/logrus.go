package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alexhholmes/treeindex"
)

// badKey holds an argument that has no key, as slog does
const badKey = "!BADKEY"

// Logrus wraps a logrus.Logger to implement treeindex.Logger. Every entry
// carries a component field naming the index.
type Logrus struct {
	entry *logrus.Entry
}

// NewLogrus creates a treeindex.Logger from a logrus.Logger.
func NewLogrus(logger *logrus.Logger) treeindex.Logger {
	return &Logrus{entry: logger.WithField("component", component)}
}

// Error logs an error message with key-value pairs.
func (l *Logrus) Error(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Error(msg)
}

// Warn logs a warning message with key-value pairs.
func (l *Logrus) Warn(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Warn(msg)
}

// Info logs an info message with key-value pairs.
func (l *Logrus) Info(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Info(msg)
}

// argsToFields pairs up slog-style arguments. Keys that are not strings are
// formatted; a trailing value without a key is kept under badKey.
func argsToFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2+1)
	for len(args) > 0 {
		if len(args) == 1 {
			fields[badKey] = args[0]
			break
		}
		key, ok := args[0].(string)
		if !ok {
			key = fmt.Sprint(args[0])
		}
		fields[key] = args[1]
		args = args[2:]
	}
	return fields
}
