package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Bus fans session events out to in-process subscribers. Slow subscribers
// lose events rather than block publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*subscription]struct{}
	buffer int
	logger *logging.Logger
}

type subscription struct {
	ch chan SessionEvent
}

// NewBus returns a bus with per-subscriber buffers of the given size.
func NewBus(buffer int, logger *logging.Logger) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{subs: make(map[uuid.UUID]map[*subscription]struct{}), buffer: buffer, logger: logger}
}

// Publish delivers evt to every subscriber of its session.
func (b *Bus) Publish(_ context.Context, evt SessionEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[evt.SessionID] {
		select {
		case sub.ch <- evt:
		default:
			b.logger.Warn("dropping session event for slow subscriber", "session_id", evt.SessionID, "type", string(evt.Type))
		}
	}
	return nil
}

// Handle lets the bus act as the outbox delivery target.
func (b *Bus) Handle(ctx context.Context, entry OutboxEntry) error {
	evt, err := entry.Event()
	if err != nil {
		return err
	}
	return b.Publish(ctx, evt)
}

// Subscribe registers for events of one session. The returned cancel func
// must be called to release the subscription; it closes the channel.
func (b *Bus) Subscribe(sessionID uuid.UUID) (<-chan SessionEvent, func()) {
	sub := &subscription{ch: make(chan SessionEvent, b.buffer)}
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*subscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], sub)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers reports how many listeners a session has.
func (b *Bus) Subscribers(sessionID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
