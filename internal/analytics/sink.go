// Package analytics forwards assignment and outcome events to an external
// analytics pipeline. Emission is strictly best-effort: a failing sink is
// logged and counted but never fails the engine operation that produced
// the event.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event is a single analytics event describing an assignment or a
// recorded outcome for an experiment subject.
type Event struct {
	Name           string                 `json:"event"`
	ExperimentID   string                 `json:"experiment_id"`
	ExperimentType string                 `json:"experiment_type"`
	SubjectID      string                 `json:"user_id"`
	Variation      string                 `json:"variation"`
	Properties     map[string]interface{} `json:"properties,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Sink receives analytics events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, ev Event) error { return nil }
func (NopSink) Close() error                             { return nil }

// LogSink writes events to the structured log. Useful in development and
// as a fallback when no pipeline is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	s.logger.Info("analytics event",
		zap.String("event", ev.Name),
		zap.String("experiment_id", ev.ExperimentID),
		zap.String("experiment_type", ev.ExperimentType),
		zap.String("user_id", ev.SubjectID),
		zap.String("variation", ev.Variation),
		zap.Time("timestamp", ev.Timestamp),
		zap.Any("properties", ev.Properties),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
