package transcribe

import (
	"context"
	"sync"
	"time"
)

// JobState tracks a speculative or in-flight transcription job.
type JobState int

const (
	JobPending JobState = iota
	JobProcessing
	JobCompleted
	JobFailed
)

func (s JobState) String() string {
	return [...]string{"pending", "processing", "completed", "failed"}[s]
}

// PreloadJob is a registered transcription job a later request can adopt
// instead of resubmitting the same audio.
type PreloadJob struct {
	AudioHash string
	StartedAt time.Time

	mu     sync.Mutex
	state  JobState
	result string
	err    error
	done   chan struct{}
}

// State returns the current job state.
func (j *PreloadJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns the transcription once completed.
func (j *PreloadJob) Result() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.state == JobCompleted
}

// Start marks the job as actively processing.
func (j *PreloadJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobPending {
		j.state = JobProcessing
	}
}

// Complete finishes the job with a transcription.
func (j *PreloadJob) Complete(result string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobCompleted || j.state == JobFailed {
		return
	}
	j.state = JobCompleted
	j.result = result
	close(j.done)
}

// Fail finishes the job with an error.
func (j *PreloadJob) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobCompleted || j.state == JobFailed {
		return
	}
	j.state = JobFailed
	j.err = err
	close(j.done)
}

// Await blocks until the job reaches a terminal state or ctx is done.
func (j *PreloadJob) Await(ctx context.Context) (string, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// PreloadRegistry tracks in-flight and recently completed jobs by audio hash.
type PreloadRegistry struct {
	mu     sync.Mutex
	jobs   map[string]*PreloadJob
	maxAge time.Duration
	now    func() time.Time
}

// NewPreloadRegistry creates an empty registry.
func NewPreloadRegistry(maxAge time.Duration) *PreloadRegistry {
	if maxAge <= 0 {
		maxAge = PreloadMaxAge
	}
	return &PreloadRegistry{
		jobs:   make(map[string]*PreloadJob),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Register returns the job for a hash, creating it if absent. The boolean
// reports whether the caller created it and therefore owns driving it.
// A failed job is replaced with a fresh one so its hash can be retried
// before the sweep evicts it; completed jobs stay adoptable.
func (r *PreloadRegistry) Register(audioHash string) (*PreloadJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.jobs[audioHash]; ok && j.State() != JobFailed {
		return j, false
	}
	j := &PreloadJob{
		AudioHash: audioHash,
		StartedAt: r.now(),
		done:      make(chan struct{}),
	}
	r.jobs[audioHash] = j
	return j, true
}

// Lookup returns a registered job without creating one.
func (r *PreloadRegistry) Lookup(audioHash string) (*PreloadJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[audioHash]
	return j, ok
}

// Sweep drops jobs older than the max age, terminal or not.
func (r *PreloadRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	now := r.now()
	for hash, j := range r.jobs {
		if now.Sub(j.StartedAt) >= r.maxAge {
			delete(r.jobs, hash)
			evicted++
		}
	}
	return evicted
}
