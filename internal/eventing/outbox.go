package eventing

import (
	"context"
	"log"

	"provider-presence/internal/presence/application/eventbus"
	"provider-presence/internal/presence/application/events"
)

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// ForwardRunEvents subscribes to run lifecycle events on bus and writes each
// one to the outbox for downstream consumers.
func ForwardRunEvents(bus eventbus.EventBus, outbox OutboxWriter, logger *log.Logger) {
	if bus == nil || outbox == nil {
		return
	}
	if logger == nil {
		logger = log.Default()
	}
	write := func(ctx context.Context, event any) error {
		env, err := BuildEnvelope(event, Meta{})
		if err != nil {
			return err
		}
		id, err := outbox.Insert(ctx, env)
		if err != nil {
			logger.Printf("eventing: outbox insert type=%s correlation_id=%s err=%v", env.EventType, env.CorrelationID, err)
			return err
		}
		logger.Printf("eventing: outbox id=%s type=%s correlation_id=%s", id, env.EventType, env.CorrelationID)
		return nil
	}
	eventbus.On(bus, func(ctx context.Context, e events.RunCompleted) error { return write(ctx, e) })
	eventbus.On(bus, func(ctx context.Context, e events.RunFailed) error { return write(ctx, e) })
}
