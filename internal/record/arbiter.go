package record

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voicerelay/internal/apperr"
	"voicerelay/internal/resilience"
	"voicerelay/internal/syncx"
)

// State is an immutable snapshot of the capture session, delivered to
// subscribers on every change.
type State struct {
	IsRecording bool
	Duration    time.Duration
	StartedAt   time.Time
}

// Arbiter guards exactly one capture session at a time. Start, Stop and
// Cancel queue behind a single mutex so interleaved calls always observe a
// settled session. A circuit breaker stops a flapping device from being
// reopened in a tight loop.
//
// Subscribers must not call back into the arbiter from their callback.
type Arbiter struct {
	rec     Recorder
	breaker *resilience.Breaker
	state   *syncx.RWGuard[State]

	ops        sync.Mutex
	tickCancel context.CancelFunc
	tickDone   chan struct{}

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewArbiter creates an arbiter over the given recorder.
func NewArbiter(rec Recorder) *Arbiter {
	return &Arbiter{
		rec:     rec,
		breaker: resilience.New(resilience.CaptureConfig()),
		state:   syncx.NewGuard(State{}),
		subs:    make(map[int]func(State)),
	}
}

// Start opens a capture session. Returns true if one is already active, so
// rapid double-taps collapse into a single session. Returns false when the
// breaker is open or the device refuses; no error crosses this boundary.
func (a *Arbiter) Start(ctx context.Context) bool {
	a.ops.Lock()
	defer a.ops.Unlock()

	if a.state.Get().IsRecording {
		return true
	}

	err := a.breaker.Execute(func() error { return a.rec.Begin(ctx) })
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrOpen):
			slog.Warn("capture start refused, breaker open")
		case apperr.IsCode(err, apperr.CodeCaptureDenied):
			slog.Warn("capture permission denied", "error", err)
		default:
			slog.Error("capture start failed", "error", err)
		}
		return false
	}

	snap := State{IsRecording: true, StartedAt: time.Now()}
	a.state.Set(snap)

	tickCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.tickCancel = cancel
	a.tickDone = done
	go a.runTicker(tickCtx, done)

	a.notify(snap)
	return true
}

// Stop finalizes the active session and returns the recorded file path.
// Returns ok=false when idle. Finalization errors are absorbed; the state is
// reset either way so the next Start finds a clean arbiter.
func (a *Arbiter) Stop() (string, bool) {
	a.ops.Lock()
	defer a.ops.Unlock()

	if !a.state.Get().IsRecording {
		return "", false
	}

	a.stopTicker()
	a.state.Set(State{})
	a.notify(State{})

	path, err := a.rec.Finalize()
	if err != nil {
		slog.Warn("capture finalize failed", "error", err)
		return "", false
	}
	return path, true
}

// Cancel discards any active session. Races against an already-stopped
// device are expected and silently absorbed.
func (a *Arbiter) Cancel() {
	a.ops.Lock()
	defer a.ops.Unlock()

	wasRecording := a.state.Get().IsRecording
	a.stopTicker()

	if err := a.rec.Discard(); err != nil && !apperr.IsCode(err, apperr.CodeCaptureRace) {
		slog.Debug("capture discard failed", "error", err)
	}

	if wasRecording {
		a.state.Set(State{})
		a.notify(State{})
	}
}

// Snapshot returns the current session state.
func (a *Arbiter) Snapshot() State { return a.state.Get() }

// Subscribe registers a state listener and returns its unsubscribe func.
func (a *Arbiter) Subscribe(fn func(State)) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Arbiter) notify(snap State) {
	a.subMu.Lock()
	fns := make([]func(State), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (a *Arbiter) runTicker(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var snap State
			a.state.Write(func(s *State) {
				if !s.IsRecording {
					return
				}
				s.Duration = time.Since(s.StartedAt).Truncate(time.Second)
				snap = *s
			})
			if snap.IsRecording {
				a.notify(snap)
			}
		}
	}
}

// stopTicker is safe to call when no ticker is running.
func (a *Arbiter) stopTicker() {
	if a.tickCancel == nil {
		return
	}
	a.tickCancel()
	<-a.tickDone
	a.tickCancel = nil
	a.tickDone = nil
}
