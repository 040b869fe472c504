package logger

import (
	"go.uber.org/zap"

	"github.com/alexhholmes/treeindex"
)

// component names the index in adapted loggers
const component = "treeindex"

// Zap wraps a zap.Logger to implement treeindex.Logger. Entries are logged
// under a child logger named after the index.
type Zap struct {
	logger *zap.SugaredLogger
}

// NewZap creates a treeindex.Logger from a zap.Logger.
func NewZap(logger *zap.Logger) treeindex.Logger {
	return &Zap{logger: logger.Named(component).Sugar()}
}

// Error logs an error message with key-value pairs.
func (z *Zap) Error(msg string, args ...any) {
	z.logger.Errorw(msg, args...)
}

// Warn logs a warning message with key-value pairs.
func (z *Zap) Warn(msg string, args ...any) {
	z.logger.Warnw(msg, args...)
}

// Info logs an info message with key-value pairs.
func (z *Zap) Info(msg string, args ...any) {
	z.logger.Infow(msg, args...)
}
