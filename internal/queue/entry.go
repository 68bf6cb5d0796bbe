package queue

import "time"

// Message is the inbound message as received from the realtime channel.
// The queue wraps it and never mutates it.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	GroupID   string    `json:"groupChatId"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AudioURL  string    `json:"audioUrl,omitempty"`
}

// EntryState is the delivery lifecycle of a queued message.
type EntryState int

const (
	StatePending EntryState = iota
	StateProcessing
	StateInterrupted
	StateCompleted
	StateFailed
	StateRetrying
)

func (s EntryState) String() string {
	return [...]string{"pending", "processing", "interrupted", "completed", "failed", "retrying"}[s]
}

// Terminal reports whether the state admits no further transitions.
func (s EntryState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// canTransition enumerates the legal state machine edges.
func canTransition(from, to EntryState) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateInterrupted || to == StateRetrying || to == StateFailed
	case StateInterrupted:
		return to == StatePending
	case StateRetrying:
		return to == StatePending || to == StateFailed
	case StateCompleted, StateFailed:
		return false
	default:
		return false
	}
}

// InterruptionLevel classifies how urgently a message may cut into
// in-flight playback.
type InterruptionLevel int

const (
	InterruptNone InterruptionLevel = iota
	InterruptLow
	InterruptHigh
	InterruptCritical
)

func (l InterruptionLevel) String() string {
	return [...]string{"none", "low", "high", "critical"}[l]
}

// ActivityLevel buckets recent message volume in a conversation.
type ActivityLevel int

const (
	ActivityLow ActivityLevel = iota
	ActivityMedium
	ActivityHigh
	ActivityBurst
)

func (l ActivityLevel) String() string {
	return [...]string{"low", "medium", "high", "burst"}[l]
}

// Metadata is derived once at enqueue time.
type Metadata struct {
	IsBackToBack       bool
	BackToBackGroupID  string
	SenderMessageCount int
	TimeSinceLast      time.Duration
	ActivityLevel      ActivityLevel
}

// Entry wraps a Message with scheduling state. Mutated only by the owning
// group's processing loop under the group lock.
type Entry struct {
	Message      Message
	Priority     int
	Interruption InterruptionLevel
	Metadata     Metadata

	State      EntryState
	ErrorCount int
	RetryDelay time.Duration
	EnqueuedAt time.Time
	StartTime  time.Time
	EndTime    time.Time

	seq int64 // insertion order, breaks priority ties
}
