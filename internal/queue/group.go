package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BackToBackGroup clusters rapid-fire messages from one sender so they play
// as a unit, in arrival order, ahead of unrelated standalone entries.
type BackToBackGroup struct {
	ID          string
	SenderID    string
	Entries     []*Entry
	AvgPriority float64
	CreatedAt   time.Time
	LastAddedAt time.Time
}

func newBackToBackGroup(senderID string, now time.Time) *BackToBackGroup {
	return &BackToBackGroup{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		CreatedAt: now,
	}
}

func (g *BackToBackGroup) add(e *Entry, now time.Time) {
	g.Entries = append(g.Entries, e)
	g.LastAddedAt = now

	sum := 0
	for _, m := range g.Entries {
		sum += m.Priority
	}
	g.AvgPriority = float64(sum) / float64(len(g.Entries))
}

func (g *BackToBackGroup) allCompleted() bool {
	for _, m := range g.Entries {
		if m.State != StateCompleted {
			return false
		}
	}
	return len(g.Entries) > 0
}

// senderHistory tracks per-sender arrival data for back-to-back detection.
type senderHistory struct {
	lastAt    time.Time
	lastEntry *Entry
	count     int
	openGroup string // id of the sender's open back-to-back group, if any
}

// groupQueue is the per-conversation state machine. All fields except wake
// are guarded by the owning Queue's mutex; methods here assume it is held.
type groupQueue struct {
	id         string
	entries    []*Entry
	btbGroups  map[string]*BackToBackGroup
	senders    map[string]*senderHistory
	recentAll  []time.Time
	current    *Entry
	cancelPlay context.CancelFunc
	wake       chan struct{}
	dirty      bool // work happened since the last drained event
}

func newGroupQueue(id string) *groupQueue {
	return &groupQueue{
		id:        id,
		btbGroups: make(map[string]*BackToBackGroup),
		senders:   make(map[string]*senderHistory),
		wake:      make(chan struct{}, 1),
	}
}

func (g *groupQueue) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// deriveMetadata classifies an arrival against sender and group history.
// Detection keys off message timestamps so ordering is independent of local
// processing delays.
func (g *groupQueue) deriveMetadata(msg Message) Metadata {
	h := g.senders[msg.SenderID]
	if h == nil {
		h = &senderHistory{}
		g.senders[msg.SenderID] = h
	}

	meta := Metadata{SenderMessageCount: h.count + 1}
	if !h.lastAt.IsZero() {
		meta.TimeSinceLast = msg.Timestamp.Sub(h.lastAt)
		if meta.TimeSinceLast >= 0 && meta.TimeSinceLast <= BackToBackThreshold {
			meta.IsBackToBack = true
		}
	}

	// prune and count the activity window
	cutoff := msg.Timestamp.Add(-ActivityWindow)
	kept := g.recentAll[:0]
	for _, t := range g.recentAll {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.recentAll = append(kept, msg.Timestamp)
	meta.ActivityLevel = activityLevelFor(len(g.recentAll))

	h.lastAt = msg.Timestamp
	h.count++
	return meta
}

// route places the entry into the sender's back-to-back group or the
// standalone list. Opening a new group pulls in the sender's previous entry
// so the whole burst plays as one unit.
func (g *groupQueue) route(e *Entry, now time.Time) {
	g.entries = append(g.entries, e)
	h := g.senders[e.Message.SenderID]

	if e.Metadata.IsBackToBack {
		btb := g.btbGroups[h.openGroup]
		if btb == nil {
			btb = newBackToBackGroup(e.Message.SenderID, now)
			g.btbGroups[btb.ID] = btb
			h.openGroup = btb.ID
			if prev := h.lastEntry; prev != nil && prev.Metadata.BackToBackGroupID == "" && !prev.State.Terminal() {
				btb.add(prev, now)
				prev.Metadata.BackToBackGroupID = btb.ID
			}
		}
		btb.add(e, now)
		e.Metadata.BackToBackGroupID = btb.ID
	}

	h.lastEntry = e
}

// next picks the entry to process. Back-to-back groups with pending members
// win over standalone entries; within the chosen set, highest priority wins
// with ties broken by insertion order.
func (g *groupQueue) next() *Entry {
	var bestGroup *BackToBackGroup
	for _, btb := range g.btbGroups {
		if !btb.hasPending() {
			continue
		}
		if bestGroup == nil || btb.AvgPriority > bestGroup.AvgPriority {
			bestGroup = btb
		}
	}
	if bestGroup != nil {
		return bestGroup.nextPending()
	}

	var best *Entry
	for _, e := range g.entries {
		if e.State != StatePending || e.Metadata.BackToBackGroupID != "" {
			continue
		}
		if best == nil || e.Priority > best.Priority || (e.Priority == best.Priority && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

func (b *BackToBackGroup) hasPending() bool {
	for _, e := range b.Entries {
		if e.State == StatePending {
			return true
		}
	}
	return false
}

// nextPending returns the earliest pending member, preserving burst order.
func (b *BackToBackGroup) nextPending() *Entry {
	var best *Entry
	for _, e := range b.Entries {
		if e.State != StatePending {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	return best
}

// preempt interrupts the in-flight entry. The processing loop observes the
// Interrupted state when playback unwinds.
func (g *groupQueue) preempt() {
	if g.current == nil || g.current.State != StateProcessing {
		return
	}
	g.current.State = StateInterrupted
	if g.cancelPlay != nil {
		g.cancelPlay()
	}
}

// remove drops an entry from the standalone list; group members stay in
// their BackToBackGroup for completion accounting.
func (g *groupQueue) remove(e *Entry) {
	for i, x := range g.entries {
		if x == e {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			return
		}
	}
}

// pendingCount counts entries that still need work.
func (g *groupQueue) pendingCount() int {
	n := 0
	for _, e := range g.entries {
		if !e.State.Terminal() {
			n++
		}
	}
	return n
}
