package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"seatreserve/pkg/logger"
)

// Publisher delivers an event to a durable message bus
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	Close() error
}

var (
	ErrQueueFull       = errors.New("publish queue is full")
	ErrPublisherClosed = errors.New("publisher is closed")
)

// LogPublisher writes events to the application log. Used when no bus is configured.
type LogPublisher struct {
	logger *logger.Logger
}

func NewLogPublisher(l *logger.Logger) *LogPublisher {
	return &LogPublisher{logger: l}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, event Event) error {
	p.logger.DebugWithContext(ctx, "Bus event", map[string]interface{}{
		"topic":          topic,
		"event_type":     string(event.Type),
		"event_id":       event.EventID,
		"seat_id":        event.SeatID,
		"reservation_id": event.ReservationID,
	})
	return nil
}

func (p *LogPublisher) Close() error { return nil }

type queuedEvent struct {
	topic string
	event Event
}

// AsyncPublisher hands events to a single background worker so a slow bus
// never delays the transition that produced them. A single worker keeps
// the enqueue order on the wire.
type AsyncPublisher struct {
	next    Publisher
	logger  *logger.Logger
	timeout time.Duration

	queue chan queuedEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncPublisher(next Publisher, queueSize int, timeout time.Duration, l *logger.Logger) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &AsyncPublisher{
		next:    next,
		logger:  l,
		timeout: timeout,
		queue:   make(chan queuedEvent, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues without blocking
func (p *AsyncPublisher) Publish(_ context.Context, topic string, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- queuedEvent{topic: topic, event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for item := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, item.topic, item.event); err != nil {
			p.logger.LogPublishFailure(ctx, "bus", string(item.event.Type), err)
		}
		cancel()
	}
}

// Close drains queued events and closes the wrapped publisher
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.next.Close()
}
