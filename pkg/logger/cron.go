package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cron adapts l to the scheduler's logger. Scheduler info lines are demoted to debug.
func Cron(l *slog.Logger) cron.Logger {
	return cronLogger{l: l}
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
