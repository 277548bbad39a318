package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/events"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/kafka"
)

// Service consumes the task-completion feed and dispatches each message to
// the handler registered for its event type.
type Service struct {
	consumer   kafka.Consumer
	registry   *events.Registry
	instanceID string
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(consumer kafka.Consumer, registry *events.Registry, instanceID string, logger *slog.Logger) *Service {
	return &Service{
		consumer:   consumer,
		registry:   registry,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.consumer.Subscribe(ctx, s.processMessage)
}

// envelope is the minimal shape read off every message before dispatch.
type envelope struct {
	EventType string `json:"event_type"`
}

// processMessage routes one feed message. Returning an error withholds the
// offset commit so the message is redelivered; undecodable messages and
// unknown event types are committed, redelivery cannot fix those.
func (s *Service) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		s.logger.Error("malformed feed message, discarding",
			slog.String("error", err.Error()),
			slog.String("raw", string(msg.Value)),
		)
		return nil
	}

	ctx, span := otel.Tracer("tracker").Start(consumerCtx, "tracker.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", env.EventType),
		attribute.String("tracker.id", s.instanceID),
		attribute.Int64("feed.offset", msg.Offset),
	)

	handler, err := s.registry.Get(env.EventType)
	if err != nil {
		var invalid *domain.InvalidEventTypeError
		if errors.As(err, &invalid) {
			s.logger.Warn("no handler for event type, discarding",
				slog.String("event_type", env.EventType),
				slog.Int64("offset", msg.Offset),
			)
			return nil
		}
		return err
	}

	if err := handler.Handle(ctx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		s.logger.Error("event handler failed",
			slog.String("event_type", env.EventType),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
