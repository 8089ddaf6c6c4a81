package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/events"
	"hireloop/internal/platform/tracer"
	request "hireloop/pkg/platform/middleware/request"
)

// Observability helpers for logging, event emission, tracing and metrics.

// emit builds the event for a committed transition and hands it to the
// publisher. Callers hold the subject lock.
func (s *Service) emit(ctx context.Context, t events.Type, subjectID uuid.UUID, at time.Time, outcome map[string]string) {
	requestID := request.GetRequestID(ctx)
	e := events.New(t, subjectID, at, requestID, outcome)
	s.publisher.Publish(ctx, e)
	s.logger.InfoContext(ctx, string(t),
		"event_id", e.ID.String(),
		"subject_id", subjectID.String(),
		"request_id", requestID,
		"log_type", "auth_event",
	)
}

func (s *Service) authFailure(ctx context.Context, op operation, reason string, isError bool, err error, attributes ...any) {
	args := append([]any{
		"operation", string(op),
		"reason", reason,
		"request_id", request.GetRequestID(ctx),
		"error", err,
	}, attributes...)
	if isError {
		s.logger.ErrorContext(ctx, "auth operation failed", args...)
	} else {
		s.logger.WarnContext(ctx, "auth operation rejected", args...)
	}
	s.metrics.IncAuthFailure(string(op), reason)
}

// startOperation opens a span and returns the func that ends it and records
// the operation duration.
func (s *Service) startOperation(ctx context.Context, op operation) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "auth."+string(op),
		tracer.String("request_id", request.GetRequestID(ctx)),
	)
	return ctx, func(err error) {
		span.End(err)
		s.metrics.ObserveOperation(string(op), time.Since(start).Seconds())
	}
}
