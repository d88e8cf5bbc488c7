package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", uuid.UUID(evt.JobID).String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Board != "" {
			fields = append(fields, zap.String("board", evt.Board))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("page", evt.Page))
		}
		if evt.Stage == progress.StagePageDone {
			fields = append(fields,
				zap.Int64("bytes", evt.Bytes),
				zap.Int64("postings", evt.Postings),
				zap.String("status_class", string(evt.StatusClass)),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageJobError {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
