package notifications

import (
	"context"

	"seatreserve/pkg/logger"
)

// Notifier fans a domain event out to the realtime hub and the message bus.
// Notify never returns an error: delivery failures are logged and the state
// change that produced the event stands.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type service struct {
	hub       *Hub
	publisher Publisher
	topic     string
	logger    *logger.Logger
}

func NewNotifier(hub *Hub, publisher Publisher, topic string, l *logger.Logger) Notifier {
	return &service{
		hub:       hub,
		publisher: publisher,
		topic:     topic,
		logger:    l,
	}
}

func (s *service) Notify(ctx context.Context, event Event) {
	if s.hub != nil {
		var dropped int
		if event.Broadcast {
			dropped = s.hub.BroadcastAll(event)
		} else {
			dropped = s.hub.Broadcast(event.EventID, event)
		}
		if dropped > 0 {
			s.logger.WarnWithContext(ctx, "Realtime subscribers dropped event", map[string]interface{}{
				"event_type": string(event.Type),
				"event_id":   event.EventID,
				"dropped":    dropped,
			})
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, s.topic, event); err != nil {
			s.logger.LogPublishFailure(ctx, "bus", string(event.Type), err)
		}
	}
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
