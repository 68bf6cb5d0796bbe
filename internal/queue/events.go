package queue

import (
	"log/slog"
	"sync"
	"time"
)

// EventType enumerates queue lifecycle events.
type EventType int

const (
	EventStarted EventType = iota
	EventCompleted
	EventFailed
	EventInterrupted
	EventBackToBackCompleted
	EventQueueDrained
)

func (t EventType) String() string {
	return [...]string{
		"started", "completed", "failed", "interrupted",
		"back_to_back_completed", "queue_drained",
	}[t]
}

// Event is published on every delivery state transition worth observing.
type Event struct {
	Type      EventType     `json:"type"`
	GroupID   string        `json:"groupId"`
	MessageID string        `json:"messageId,omitempty"`
	SenderID  string        `json:"senderId,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"` // EventCompleted
	Count     int           `json:"count,omitempty"`    // EventBackToBackCompleted
	Reason    string        `json:"reason,omitempty"`   // EventFailed
}

const eventBuffer = 64

// Bus fans events out to subscribers over buffered channels. A slow
// subscriber drops events rather than stalling delivery.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns an event channel and its unsubscribe func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, eventBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("event subscriber full, dropping", "event", e.Type.String())
		}
	}
}
