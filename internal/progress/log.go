package progress

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes structured logs for each run milestone. It is the default
// caller-facing delivery path when no richer UI is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt Event) error {
	s.logger.Info("run progress",
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
		zap.String("message", evt.Message),
		zap.String("source", evt.Source),
		zap.Int("uploaded", evt.Uploaded),
		zap.Int("processed", evt.Processed),
		zap.Int("target", evt.Target),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
