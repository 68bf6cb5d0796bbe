package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voicerelay/internal/store"
	"voicerelay/internal/syncx"
	"voicerelay/internal/trace"
)

// AudioSource resolves a message id to a playable audio URL.
type AudioSource interface {
	ResolveAudio(ctx context.Context, messageID string) (string, error)
}

// Player plays audio from a URL, blocking until done or ctx cancelled.
type Player interface {
	Play(ctx context.Context, audioURL string) error
}

// StoreAudioSource resolves playback URLs from the durable record store.
type StoreAudioSource struct {
	Store store.MessageStore
}

func (s StoreAudioSource) ResolveAudio(ctx context.Context, messageID string) (string, error) {
	rec, err := s.Store.Get(ctx, messageID)
	if err != nil {
		return "", err
	}
	return rec.AudioURL, nil
}

// Status is the per-conversation queue snapshot.
type Status struct {
	MessageCount     int    `json:"messageCount"`
	BackToBackGroups int    `json:"backToBackGroups"`
	IsProcessing     bool   `json:"isProcessing"`
	CurrentMessageID string `json:"currentMessageId,omitempty"`
}

// Metrics aggregates delivery counters across all conversations.
type Metrics struct {
	TotalMessages         int           `json:"totalMessages"`
	ProcessedMessages     int           `json:"processedMessages"`
	FailedMessages        int           `json:"failedMessages"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
	BackToBackGroups      int           `json:"backToBackGroups"`
	Interruptions         int           `json:"interruptions"`
}

type metricsState struct {
	Metrics
	totalProcessing time.Duration
}

// Options configures a Queue.
type Options struct {
	SelfUserID          string
	HighPrioritySenders []string
	MarkRead            func(messageID string)
	InitialRetryDelay   time.Duration
}

// Queue is the scalable per-conversation delivery queue. Each conversation
// gets its own lazily created state machine and processing goroutine; at
// most one entry per conversation is in flight at a time.
type Queue struct {
	source       AudioSource
	player       Player
	opts         Options
	bus          *Bus
	highPriority map[string]bool

	mu     sync.Mutex
	groups map[string]*groupQueue

	metrics *syncx.RWGuard[metricsState]
	seq     atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a delivery queue.
func New(source AudioSource, player Player, opts Options) *Queue {
	if opts.InitialRetryDelay <= 0 {
		opts.InitialRetryDelay = InitialRetryDelay
	}
	hp := make(map[string]bool, len(opts.HighPrioritySenders))
	for _, s := range opts.HighPrioritySenders {
		hp[s] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		source:       source,
		player:       player,
		opts:         opts,
		bus:          NewBus(),
		highPriority: hp,
		groups:       make(map[string]*groupQueue),
		metrics:      syncx.NewGuard(metricsState{}),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}
}

// Events exposes the lifecycle event bus.
func (q *Queue) Events() *Bus { return q.bus }

// Shutdown stops all processing and waits for loops to unwind.
func (q *Queue) Shutdown() {
	q.cancel()
	q.mu.Lock()
	for _, g := range q.groups {
		g.signal()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// AddMessage enqueues an inbound message for delivery. Self-authored and
// non-voice messages are rejected. Returns whether the message was accepted.
func (q *Queue) AddMessage(msg Message, groupID string) bool {
	if msg.SenderID == q.opts.SelfUserID {
		return false
	}
	if msg.Type != "voice" {
		slog.Debug("ignoring non-voice message", "message_id", msg.ID, "type", msg.Type)
		return false
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = q.now()
	}

	g := q.group(groupID)

	q.mu.Lock()
	now := q.now()
	meta := g.deriveMetadata(msg)
	highPri := q.highPriority[msg.SenderID]

	e := &Entry{
		Message:      msg,
		Metadata:     meta,
		Priority:     computePriority(now.Sub(msg.Timestamp), meta, highPri),
		Interruption: interruptionLevelFor(meta, highPri),
		State:        StatePending,
		RetryDelay:   q.opts.InitialRetryDelay,
		EnqueuedAt:   now,
		seq:          q.seq.Add(1),
	}
	g.route(e, now)
	g.dirty = true

	if g.current != nil && shouldInterrupt(e, g.current) {
		g.preempt()
	}
	q.mu.Unlock()

	q.metrics.Write(func(m *metricsState) { m.TotalMessages++ })

	g.signal()
	return true
}

// ClearQueue drops all queued work for a conversation and tears down any
// in-flight playback.
func (q *Queue) ClearQueue(groupID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g, ok := q.groups[groupID]
	if !ok {
		return
	}
	g.entries = nil
	g.btbGroups = make(map[string]*BackToBackGroup)
	g.senders = make(map[string]*senderHistory)
	g.recentAll = nil
	g.preempt()
}

// Status reports the queue snapshot for one conversation.
func (q *Queue) Status(groupID string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	g, ok := q.groups[groupID]
	if !ok {
		return Status{}
	}
	st := Status{
		MessageCount:     g.pendingCount(),
		BackToBackGroups: len(g.btbGroups),
		IsProcessing:     g.current != nil,
	}
	if g.current != nil {
		st.CurrentMessageID = g.current.Message.ID
	}
	return st
}

// Metrics returns aggregate delivery counters.
func (q *Queue) Metrics() Metrics {
	st := q.metrics.Get()
	m := st.Metrics
	if m.ProcessedMessages > 0 {
		m.AverageProcessingTime = st.totalProcessing / time.Duration(m.ProcessedMessages)
	}
	return m
}

func (q *Queue) group(id string) *groupQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	g, ok := q.groups[id]
	if !ok {
		g = newGroupQueue(id)
		q.groups[id] = g
		q.wg.Add(1)
		go q.runGroup(g)
	}
	return g
}

// runGroup is the per-conversation processing loop. One entry in flight at
// a time; parks on the wake channel when the queue is empty.
func (q *Queue) runGroup(g *groupQueue) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		e := g.next()
		drained := e == nil && g.dirty && g.pendingCount() == 0
		if drained {
			g.dirty = false
		}
		q.mu.Unlock()

		if drained {
			q.bus.Publish(Event{Type: EventQueueDrained, GroupID: g.id})
		}
		if e == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-g.wake:
			}
			continue
		}
		if q.ctx.Err() != nil {
			return
		}
		q.process(g, e)
	}
}

func (q *Queue) process(g *groupQueue, e *Entry) {
	ctx, span := trace.StartSpan(q.ctx, "queue_process")
	defer span.End()
	span.SetAttr("message_id", e.Message.ID)
	span.SetAttr("group_id", g.id)
	log := trace.Logger(ctx)

	q.mu.Lock()
	if e.State != StatePending || !canTransition(e.State, StateProcessing) {
		q.mu.Unlock()
		return
	}
	e.State = StateProcessing
	e.StartTime = q.now()
	playCtx, cancel := context.WithTimeout(ctx, PlaybackCeiling)
	g.current = e
	g.cancelPlay = cancel
	q.mu.Unlock()
	defer cancel()

	q.bus.Publish(Event{
		Type:      EventStarted,
		GroupID:   g.id,
		MessageID: e.Message.ID,
		SenderID:  e.Message.SenderID,
	})

	playErr := q.play(playCtx, e)

	q.mu.Lock()
	g.current = nil
	g.cancelPlay = nil
	interrupted := e.State == StateInterrupted
	q.mu.Unlock()

	switch {
	case interrupted:
		q.bus.Publish(Event{
			Type:      EventInterrupted,
			GroupID:   g.id,
			MessageID: e.Message.ID,
			SenderID:  e.Message.SenderID,
		})
		q.metrics.Write(func(m *metricsState) { m.Interruptions++ })
		q.mu.Lock()
		if canTransition(e.State, StatePending) {
			e.State = StatePending
			e.Priority += ResumeBoost
		}
		q.mu.Unlock()
		log.Info("playback preempted", "message_id", e.Message.ID)

	case playErr != nil && q.ctx.Err() != nil:
		// shutdown, leave the entry as-is

	case playErr != nil:
		q.fail(g, e, playErr)

	default:
		q.complete(g, e)
	}
}

// play resolves and plays the entry's audio. Hitting the playback ceiling
// counts as success; a hung player must not wedge the queue.
func (q *Queue) play(ctx context.Context, e *Entry) error {
	url := e.Message.AudioURL
	if url == "" {
		var err error
		url, err = q.source.ResolveAudio(ctx, e.Message.ID)
		if err != nil {
			return err
		}
	}
	if url == "" {
		return nil
	}

	err := q.player.Play(ctx, url)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (q *Queue) complete(g *groupQueue, e *Entry) {
	q.mu.Lock()
	e.State = StateCompleted
	e.EndTime = q.now()
	elapsed := e.EndTime.Sub(e.StartTime)
	g.remove(e)

	var finished *BackToBackGroup
	if id := e.Metadata.BackToBackGroupID; id != "" {
		if btb := g.btbGroups[id]; btb != nil && btb.allCompleted() {
			finished = btb
			delete(g.btbGroups, id)
			if h := g.senders[btb.SenderID]; h != nil && h.openGroup == id {
				h.openGroup = ""
			}
		}
	}
	q.mu.Unlock()

	q.metrics.Write(func(m *metricsState) {
		m.ProcessedMessages++
		m.totalProcessing += elapsed
		if finished != nil {
			m.BackToBackGroups++
		}
	})

	q.bus.Publish(Event{
		Type:      EventCompleted,
		GroupID:   g.id,
		MessageID: e.Message.ID,
		SenderID:  e.Message.SenderID,
		Duration:  elapsed,
	})
	if finished != nil {
		q.bus.Publish(Event{
			Type:     EventBackToBackCompleted,
			GroupID:  g.id,
			SenderID: finished.SenderID,
			Count:    len(finished.Entries),
		})
	}
	if q.opts.MarkRead != nil {
		q.opts.MarkRead(e.Message.ID)
	}
}

func (q *Queue) fail(g *groupQueue, e *Entry, cause error) {
	q.mu.Lock()
	e.ErrorCount++
	if e.ErrorCount < MaxRetries {
		e.State = StateRetrying
		delay := e.RetryDelay
		e.RetryDelay *= 2
		q.mu.Unlock()

		slog.Warn("playback failed, retrying",
			"message_id", e.Message.ID, "attempt", e.ErrorCount, "delay", delay, "error", cause)

		time.AfterFunc(delay, func() {
			q.mu.Lock()
			if canTransition(e.State, StatePending) {
				e.State = StatePending
			}
			q.mu.Unlock()
			g.signal()
		})
		return
	}

	e.State = StateFailed
	e.EndTime = q.now()
	g.remove(e)
	q.mu.Unlock()

	q.metrics.Write(func(m *metricsState) { m.FailedMessages++ })
	q.bus.Publish(Event{
		Type:      EventFailed,
		GroupID:   g.id,
		MessageID: e.Message.ID,
		SenderID:  e.Message.SenderID,
		Reason:    cause.Error(),
	})
	slog.Error("message delivery failed permanently",
		"message_id", e.Message.ID, "errors", e.ErrorCount, "error", cause)
}
