package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPreloadRegistryOwnership(t *testing.T) {
	r := NewPreloadRegistry(time.Hour)

	j1, owner := r.Register("hash1")
	if !owner {
		t.Fatal("first registration should own the job")
	}
	j2, owner := r.Register("hash1")
	if owner {
		t.Error("second registration must not own the job")
	}
	if j1 != j2 {
		t.Error("duplicate registrations should share one job")
	}
}

func TestPreloadRegistryReplacesFailedJob(t *testing.T) {
	r := NewPreloadRegistry(time.Hour)

	j1, _ := r.Register("hash1")
	j1.Start()
	j1.Fail(errors.New("remote down"))

	j2, owner := r.Register("hash1")
	if !owner {
		t.Fatal("registering over a failed job should own a fresh one")
	}
	if j2 == j1 {
		t.Fatal("failed job should be replaced, not reused")
	}
	if j2.State() != JobPending {
		t.Errorf("fresh job state = %v, want pending", j2.State())
	}

	j2.Complete("transcript")
	if _, owner := r.Register("hash1"); owner {
		t.Error("completed job must stay adoptable")
	}
}

func TestPreloadJobLifecycle(t *testing.T) {
	r := NewPreloadRegistry(time.Hour)
	j, _ := r.Register("hash1")

	if j.State() != JobPending {
		t.Fatalf("new job state = %v, want pending", j.State())
	}
	j.Start()
	if j.State() != JobProcessing {
		t.Fatalf("started job state = %v, want processing", j.State())
	}
	if _, done := j.Result(); done {
		t.Error("result should not be available while processing")
	}

	j.Complete("transcript")
	text, done := j.Result()
	if !done || text != "transcript" {
		t.Errorf("result = (%q, %v), want (transcript, true)", text, done)
	}

	// terminal state is sticky
	j.Fail(errors.New("late failure"))
	if j.State() != JobCompleted {
		t.Errorf("completed job flipped to %v", j.State())
	}
}

func TestPreloadJobAwait(t *testing.T) {
	r := NewPreloadRegistry(time.Hour)
	j, _ := r.Register("hash1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		j.Complete("done text")
	}()

	text, err := j.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if text != "done text" {
		t.Errorf("got %q, want %q", text, "done text")
	}
}

func TestPreloadJobAwaitContext(t *testing.T) {
	r := NewPreloadRegistry(time.Hour)
	j, _ := r.Register("hash1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := j.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestPreloadRegistrySweep(t *testing.T) {
	r := NewPreloadRegistry(30 * time.Minute)
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Register("old")
	r.now = func() time.Time { return base.Add(20 * time.Minute) }
	r.Register("fresh")

	r.now = func() time.Time { return base.Add(31 * time.Minute) }
	if n := r.Sweep(); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if _, ok := r.Lookup("old"); ok {
		t.Error("aged job should be evicted")
	}
	if _, ok := r.Lookup("fresh"); !ok {
		t.Error("fresh job should survive")
	}
}
