package bus

import (
	"sync"
	"time"

	"proctorlink/internal/core/domain"

	"go.uber.org/zap"
)

const defaultBuffer = 64

// EventBus is the in-process channel between engine components and the
// facade. Components publish typed events; the facade subscribes and forwards
// to external callbacks. This replaces direct callback wiring between
// capture, transport and UI.
type EventBus struct {
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	subs   []chan domain.Event
	closed bool
}

func New(logger *zap.SugaredLogger) *EventBus {
	return &EventBus{logger: logger}
}

// Subscribe returns a channel receiving all events published after the call.
func (b *EventBus) Subscribe() <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, defaultBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to all subscribers. Delivery never blocks the
// publisher: a subscriber that cannot keep up loses the event, with a warning.
func (b *EventBus) Publish(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warnw("dropping event for slow subscriber",
				"type", event.Type,
				"session_id", event.SessionID,
			)
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
