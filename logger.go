package txprop

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the structured logger used by the manager.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type charmLogger struct {
	l *charmlog.Logger
}

// NewLogger returns a charm logger writing to w at the given level ("debug", "info", ...).
func NewLogger(w io.Writer, level string) (Logger, error) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           lvl,
		Prefix:          "txprop",
	})
	return &charmLogger{l: l}, nil
}

func defaultLogger() Logger {
	return &charmLogger{l: charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           charmlog.InfoLevel,
		Prefix:          "txprop",
	})}
}

func (c *charmLogger) Debug(msg string, keyvals ...any) { c.l.Debug(msg, keyvals...) }
func (c *charmLogger) Info(msg string, keyvals ...any)  { c.l.Info(msg, keyvals...) }
func (c *charmLogger) Warn(msg string, keyvals ...any)  { c.l.Warn(msg, keyvals...) }
func (c *charmLogger) Error(msg string, keyvals ...any) { c.l.Error(msg, keyvals...) }
