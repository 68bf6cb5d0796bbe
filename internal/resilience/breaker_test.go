package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New(DefaultConfig())
	if b.State() != Closed {
		t.Errorf("State() = %v, want Closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: time.Minute, HalfOpenSuccesses: 1})

	for i := 0; i < 3; i++ {
		b.Failure()
	}

	if b.State() != Open {
		t.Errorf("State() = %v, want Open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: time.Minute, HalfOpenSuccesses: 1})

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	if b.State() != Closed {
		t.Errorf("State() = %v, want Closed (failures reset by success)", b.State())
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenSuccesses: 1})

	b.Failure()
	if b.State() != Open {
		t.Fatalf("State() = %v, want Open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after reset timeout = %v, want nil", err)
	}
	if b.State() != HalfOpen {
		t.Errorf("State() = %v, want HalfOpen", b.State())
	}
}

func TestBreakerClosesFromHalfOpen(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2})

	b.Failure()
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow() // transitions to half-open

	b.Success()
	if b.State() != HalfOpen {
		t.Errorf("State() = %v, want HalfOpen after 1/2 successes", b.State())
	}
	b.Success()
	if b.State() != Closed {
		t.Errorf("State() = %v, want Closed after 2/2 successes", b.State())
	}
}

func TestBreakerReopensFromHalfOpen(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2})

	b.Failure()
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()

	b.Failure()
	if b.State() != Open {
		t.Errorf("State() = %v, want Open (half-open failure reopens)", b.State())
	}
}

func TestBreakerExecute(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Minute, HalfOpenSuccesses: 1})

	boom := errors.New("boom")
	if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Execute() = %v, want boom", err)
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() after open = %v, want ErrOpen", err)
	}
}

func TestBreakerExecuteWithResult(t *testing.T) {
	b := New(DefaultConfig())

	got, err := ExecuteWithResult(b, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("ExecuteWithResult() = (%d, %v), want (42, nil)", got, err)
	}
}

func TestBreakerHook(t *testing.T) {
	var transitions []string
	b := New(Config{Threshold: 1, ResetTimeout: time.Minute, HalfOpenSuccesses: 1}).
		WithHook(func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		})

	b.Failure()
	b.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}
