package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes audit events to a structured logger. It is the default sink
// and always available; database-backed sinks live in the repository package.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Flush writes each event as one structured log record.
func (s *SlogSink) Flush(_ context.Context, events []*Event) error {
	for _, event := range events {
		s.logger.Info("audit event",
			slog.String("event_id", event.ID.String()),
			slog.String("request_id", event.RequestID.String()),
			slog.String("principal_id", event.PrincipalID),
			slog.String("event_type", string(event.EventType)),
			slog.String("decision", string(event.Decision)),
			slog.String("resource_type", event.ResourceType),
			slog.String("operation", event.Operation),
			slog.String("resource", event.Resource),
			slog.String("capability_id", event.CapabilityID.String()),
			slog.String("reason", event.Reason),
			slog.Any("metadata", event.Metadata),
			slog.Time("created_at", event.CreatedAt),
		)
	}
	return nil
}
