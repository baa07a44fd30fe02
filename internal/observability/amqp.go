package observability

import (
	"context"
	"log/slog"
)

// Publisher is the broker side of event publishing.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// EventPublisher sends websocket telemetry envelopes to the broker.
type EventPublisher struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewEventPublisher(publisher Publisher, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{publisher: publisher, logger: logger}
}

// PublishEvent routes env under "ws.<event_name>". Failures are counted and
// logged; telemetry never fails the caller.
func (p *EventPublisher) PublishEvent(ctx context.Context, env EventEnvelope) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, env.EventType+"."+env.EventName, env); err != nil {
		IncAMQPPublishError()
		p.logger.Warn("publish telemetry event", "event", env.EventName, "error", err)
	}
}
