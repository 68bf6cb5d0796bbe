package record

import (
	"context"
	"sync"
	"testing"

	"voicerelay/internal/apperr"
)

type fakeRecorder struct {
	mu         sync.Mutex
	begins     int
	finalizes  int
	discards   int
	beginErr   error
	discardErr error
	path       string
}

func (f *fakeRecorder) Begin(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return f.beginErr
}

func (f *fakeRecorder) Finalize() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizes++
	return f.path, nil
}

func (f *fakeRecorder) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
	return f.discardErr
}

func TestStartIsIdempotent(t *testing.T) {
	rec := &fakeRecorder{path: "/tmp/x.wav"}
	a := NewArbiter(rec)

	if !a.Start(context.Background()) {
		t.Fatal("first start should succeed")
	}
	if !a.Start(context.Background()) {
		t.Fatal("second start while recording should report success")
	}
	if rec.begins != 1 {
		t.Errorf("device opened %d times, want 1", rec.begins)
	}
	if !a.Snapshot().IsRecording {
		t.Error("snapshot should show recording")
	}
	a.Cancel()
}

func TestConcurrentStartsSingleSession(t *testing.T) {
	rec := &fakeRecorder{path: "/tmp/x.wav"}
	a := NewArbiter(rec)

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Start(context.Background())
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Errorf("start %d returned false", i)
		}
	}
	if rec.begins != 1 {
		t.Errorf("device opened %d times, want 1", rec.begins)
	}
	a.Cancel()
}

func TestStopWithoutStart(t *testing.T) {
	a := NewArbiter(&fakeRecorder{})

	if path, ok := a.Stop(); ok || path != "" {
		t.Errorf("stop on idle arbiter = (%q, %v), want empty", path, ok)
	}
}

func TestStartStopCycle(t *testing.T) {
	rec := &fakeRecorder{path: "/tmp/take.wav"}
	a := NewArbiter(rec)

	if !a.Start(context.Background()) {
		t.Fatal("start failed")
	}
	path, ok := a.Stop()
	if !ok || path != "/tmp/take.wav" {
		t.Fatalf("stop = (%q, %v)", path, ok)
	}
	if a.Snapshot().IsRecording {
		t.Error("state should reset after stop")
	}
	if _, ok := a.Stop(); ok {
		t.Error("second stop should report idle")
	}
	if rec.finalizes != 1 {
		t.Errorf("finalized %d times, want 1", rec.finalizes)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	rec := &fakeRecorder{beginErr: apperr.New(apperr.CodeCaptureFailed, "device wedged")}
	a := NewArbiter(rec)

	for i := 0; i < 3; i++ {
		if a.Start(context.Background()) {
			t.Fatalf("start %d should fail", i)
		}
	}
	if rec.begins != 3 {
		t.Fatalf("device tried %d times, want 3", rec.begins)
	}

	// breaker open, device is not touched again
	if a.Start(context.Background()) {
		t.Error("start should fail while breaker open")
	}
	if rec.begins != 3 {
		t.Errorf("open breaker still hit the device (%d opens)", rec.begins)
	}
}

func TestCancelAbsorbsStoppedRace(t *testing.T) {
	rec := &fakeRecorder{discardErr: apperr.New(apperr.CodeCaptureRace, "already unloaded")}
	a := NewArbiter(rec)

	a.Cancel() // idle cancel is a no-op, must not panic

	a.Start(context.Background())
	a.Cancel()
	if a.Snapshot().IsRecording {
		t.Error("cancel should reset state despite discard race")
	}
}

func TestSubscribeNotifications(t *testing.T) {
	rec := &fakeRecorder{path: "/tmp/x.wav"}
	a := NewArbiter(rec)

	var mu sync.Mutex
	var snaps []State
	unsub := a.Subscribe(func(s State) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	a.Start(context.Background())
	a.Stop()

	mu.Lock()
	n := len(snaps)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("got %d notifications, want 2", n)
	}
	if !snaps[0].IsRecording || snaps[1].IsRecording {
		t.Error("notifications should show start then reset")
	}

	unsub()
	a.Start(context.Background())
	mu.Lock()
	after := len(snaps)
	mu.Unlock()
	if after != n {
		t.Error("unsubscribed listener still notified")
	}
	a.Cancel()
}
