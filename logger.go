package treeindex

import (
	"github.com/alexhholmes/treeindex/internal/index"
)

// Logger receives structural events of the index, such as root growth or an
// insert that keeps losing races. slog.Logger implements it directly; see
// pkg logger for zap and logrus adapters.
type Logger = index.Logger

// DiscardLogger is the default logger that compiles to a no-op
type DiscardLogger struct{}

func (DiscardLogger) Error(string, ...any) {}

func (DiscardLogger) Warn(string, ...any) {}

func (DiscardLogger) Info(string, ...any) {}
