package logsink

import (
	"context"
	"log/slog"

	"lock-approach.klederson.com/internal/mode"
)

// Sink receives engine log emissions. It matches proximity.LogSink.
type Sink interface {
	RecordDistances(ctx context.Context, frontCm, backCm float64)
	RecordSignal(ctx context.Context, dbm int)
	RecordConfirmation(ctx context.Context, m mode.Mode)
}

// Logger writes emissions as structured log lines.
type Logger struct {
	log *slog.Logger
}

// NewLogger creates a sink that logs at info level.
func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log.With("component", "logsink")}
}

func (l *Logger) RecordDistances(ctx context.Context, frontCm, backCm float64) {
	l.log.InfoContext(ctx, "distances", "front_cm", frontCm, "back_cm", backCm)
}

func (l *Logger) RecordSignal(ctx context.Context, dbm int) {
	l.log.InfoContext(ctx, "signal", "dbm", dbm)
}

func (l *Logger) RecordConfirmation(ctx context.Context, m mode.Mode) {
	l.log.InfoContext(ctx, "approach confirmed", "mode", m.String())
}

// Multi fans every emission out to each sink in order.
type Multi []Sink

func (m Multi) RecordDistances(ctx context.Context, frontCm, backCm float64) {
	for _, s := range m {
		s.RecordDistances(ctx, frontCm, backCm)
	}
}

func (m Multi) RecordSignal(ctx context.Context, dbm int) {
	for _, s := range m {
		s.RecordSignal(ctx, dbm)
	}
}

func (m Multi) RecordConfirmation(ctx context.Context, md mode.Mode) {
	for _, s := range m {
		s.RecordConfirmation(ctx, md)
	}
}
