package transcribe

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"voicerelay/internal/apperr"
	"voicerelay/internal/resilience"
	"voicerelay/internal/store"
	"voicerelay/internal/syncx"
	"voicerelay/internal/trace"
	"voicerelay/internal/upload"
)

// ReceiptStatus tells the caller how its request was satisfied.
type ReceiptStatus string

const (
	StatusCached     ReceiptStatus = "cached"
	StatusPreloaded  ReceiptStatus = "preloaded"
	StatusProcessing ReceiptStatus = "processing"
)

// Receipt is the synchronous answer to a FastTranscribe call. Cache hits
// carry the transcription; misses carry a completion estimate and resolve
// through the durable record later.
type Receipt struct {
	MessageID     string        `json:"messageId"`
	Status        ReceiptStatus `json:"status"`
	Transcription string        `json:"transcription,omitempty"`
	EstimatedTime time.Duration `json:"estimatedTime,omitempty"`
	AudioHash     string        `json:"audioHash"`
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store       store.MessageStore
	Uploader    upload.Uploader
	Jobs        JobClient
	Shared      SharedCache // optional
	Fingerprint Fingerprinter
	CacheTTL    time.Duration
	SweepEvery  time.Duration
}

// Service orchestrates hashing, cache consultation, upload, job submission
// and polling for audio captures.
type Service struct {
	deps     Deps
	lock     *syncx.Locker
	cache    *Cache
	similar  *SimilarityIndex
	preload  *PreloadRegistry
	breaker  *resilience.Breaker
	newID    func() string
	schedule func(audioDuration time.Duration) backoff.BackOff

	wg sync.WaitGroup
}

// NewService wires a pipeline from its dependencies.
func NewService(deps Deps) *Service {
	if deps.Fingerprint == nil {
		deps.Fingerprint = FingerprintFile
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = DefaultCacheTTL
	}
	if deps.SweepEvery <= 0 {
		deps.SweepEvery = DefaultSweepInterval
	}
	return &Service{
		deps:     deps,
		lock:     syncx.NewLocker(),
		cache:    NewCache(deps.CacheTTL),
		similar:  NewSimilarityIndex(SimilarityThreshold, SimilarityMaxAge),
		preload:  NewPreloadRegistry(PreloadMaxAge),
		breaker:  resilience.New(resilience.JobConfig()),
		newID:    uuid.NewString,
		schedule: func(d time.Duration) backoff.BackOff { return newTierBackoff(tierFor(d)) },
	}
}

// Run drives the periodic cache sweeps until ctx is done.
func (s *Service) Run(ctx context.Context) {
	go s.cache.Run(ctx, s.deps.SweepEvery)

	ticker := time.NewTicker(s.deps.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.similar.Sweep()
			s.preload.Sweep()
		}
	}
}

// Drain waits for in-flight background processing to finish.
func (s *Service) Drain() { s.wg.Wait() }

// FastTranscribe resolves a local capture into a message record, consulting
// the cache tier before doing real work. The caller is never blocked past
// record creation: misses return a processing receipt and complete in the
// background.
func (s *Service) FastTranscribe(ctx context.Context, audioPath, senderID, groupID string) (Receipt, error) {
	ctx, span := trace.StartSpan(ctx, "fast_transcribe")
	defer span.End()
	log := trace.Logger(ctx)

	release, err := s.lock.AcquireTimeout(ctx, LockTimeout)
	if err != nil {
		return Receipt{}, err // recoverable busy, caller may retry
	}

	fp, err := s.deps.Fingerprint(audioPath)
	if err != nil {
		if apperr.IsCaptureRelated(err) {
			log.Warn("fingerprint failed, attempting recovery", "error", err)
			return s.recover(ctx, audioPath, senderID, groupID, release)
		}
		release()
		return Receipt{}, err
	}
	span.SetAttr("audio_hash", fp.Hash)

	// Exact cache
	if text, ok := s.cache.Get(fp.Hash); ok {
		defer release()
		return s.hitReceipt(ctx, fp, senderID, groupID, text, StatusCached)
	}

	// Preload registry: adopt an in-flight or completed speculative job
	if job, ok := s.preload.Lookup(fp.Hash); ok {
		if text, done := job.Result(); done {
			defer release()
			s.cache.Put(fp.Hash, text)
			return s.hitReceipt(ctx, fp, senderID, groupID, text, StatusPreloaded)
		}
		if job.State() != JobFailed {
			return s.adopt(ctx, audioPath, fp, senderID, groupID, job, release)
		}
	}

	// Shared cache, best effort
	if s.deps.Shared != nil {
		if text, ok, err := s.deps.Shared.Get(ctx, fp.Hash); err == nil && ok {
			defer release()
			s.cache.Put(fp.Hash, text)
			return s.hitReceipt(ctx, fp, senderID, groupID, text, StatusCached)
		} else if err != nil {
			log.Debug("shared cache unavailable", "error", err)
		}
	}

	// Similarity index: reuse a close-enough representative's transcription
	if rep, ok := s.similar.Lookup(fp.Hash); ok {
		if text, ok := s.cache.Get(rep); ok {
			defer release()
			return s.hitReceipt(ctx, fp, senderID, groupID, text, StatusCached)
		}
	}

	// Full miss: own the preload slot so concurrent duplicates adopt us.
	// Losing the slot means a speculative job registered since the lookup
	// above; ride it instead of resubmitting.
	job, owner := s.preload.Register(fp.Hash)
	if !owner {
		return s.adopt(ctx, audioPath, fp, senderID, groupID, job, release)
	}

	msgID := s.newID()
	s.wg.Add(1)
	go s.process(msgID, audioPath, fp, senderID, groupID, job, release)

	return Receipt{
		MessageID:     msgID,
		Status:        StatusProcessing,
		EstimatedTime: estimate(fp.Duration),
		AudioHash:     fp.Hash,
	}, nil
}

// hitReceipt persists a ready record for a cache hit and returns it.
func (s *Service) hitReceipt(ctx context.Context, fp Fingerprint, senderID, groupID, text string, status ReceiptStatus) (Receipt, error) {
	msgID := s.newID()
	rec := store.Record{
		ID:               msgID,
		SenderID:         senderID,
		GroupID:          groupID,
		Type:             "voice",
		AudioHash:        fp.Hash,
		Duration:         fp.Duration,
		Transcription:    text,
		ProcessingStatus: store.StatusReady,
	}
	if err := s.deps.Store.Create(ctx, rec); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		MessageID:     msgID,
		Status:        status,
		Transcription: text,
		AudioHash:     fp.Hash,
	}, nil
}

// adopt rides an in-flight preload job instead of resubmitting.
func (s *Service) adopt(ctx context.Context, audioPath string, fp Fingerprint, senderID, groupID string, job *PreloadJob, release func()) (Receipt, error) {
	msgID := s.newID()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "transcribe_adopt")
		defer span.End()
		span.SetAttr("audio_hash", fp.Hash)
		defer func() {
			s.removeTemp(ctx, audioPath)
			release()
		}()

		rec := store.Record{
			ID:               msgID,
			SenderID:         senderID,
			GroupID:          groupID,
			Type:             "voice",
			AudioHash:        fp.Hash,
			Duration:         fp.Duration,
			ProcessingStatus: store.StatusProcessing,
		}
		if err := s.deps.Store.Create(ctx, rec); err != nil {
			trace.Logger(ctx).Error("create adopted record", "error", err)
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, PollWallClock)
		defer cancel()
		text, err := job.Await(waitCtx)
		switch {
		case err == nil:
			s.cache.Put(fp.Hash, text)
			s.finalize(ctx, msgID, text, store.StatusReady)
		case apperr.IsCode(err, apperr.CodeTimeout) || waitCtx.Err() != nil:
			s.finalize(ctx, msgID, "", store.StatusReady)
		default:
			s.finalize(ctx, msgID, "", store.StatusFailed)
		}
	}()

	return Receipt{
		MessageID:     msgID,
		Status:        StatusProcessing,
		EstimatedTime: estimate(fp.Duration),
		AudioHash:     fp.Hash,
	}, nil
}

// process is the background phase of a full miss: upload, persist, submit,
// poll, finalize. Temp file removal and lock release always run, once.
func (s *Service) process(msgID, audioPath string, fp Fingerprint, senderID, groupID string, job *PreloadJob, release func()) {
	defer s.wg.Done()
	ctx, span := trace.StartSpan(context.Background(), "transcribe_process")
	defer span.End()
	span.SetAttr("message_id", msgID)
	span.SetAttr("audio_hash", fp.Hash)
	log := trace.Logger(ctx)

	defer func() {
		s.removeTemp(ctx, audioPath)
		release()
	}()

	job.Start()

	var audioURL string
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		var uerr error
		audioURL, uerr = s.deps.Uploader.Upload(ctx, audioPath, fp.Hash)
		return uerr
	})
	if err != nil {
		log.Error("audio upload failed", "error", err)
		s.persistFailed(ctx, msgID, fp, senderID, groupID)
		job.Fail(err)
		return
	}

	rec := store.Record{
		ID:               msgID,
		SenderID:         senderID,
		GroupID:          groupID,
		Type:             "voice",
		AudioURL:         audioURL,
		AudioHash:        fp.Hash,
		Duration:         fp.Duration,
		ProcessingStatus: store.StatusProcessing,
	}
	if err := s.deps.Store.Create(ctx, rec); err != nil {
		log.Error("persist message record", "error", err)
		job.Fail(err)
		return
	}

	var jobID string
	err = resilience.Retry(ctx, resilience.JobRetryConfig(), func() error {
		return s.breaker.Execute(func() error {
			var serr error
			jobID, serr = s.deps.Jobs.Submit(ctx, audioURL)
			return serr
		})
	})
	if err != nil {
		log.Error("job submission failed", "error", err)
		s.finalize(ctx, msgID, "", store.StatusFailed)
		job.Fail(err)
		return
	}

	text, err := pollJob(ctx, s.deps.Jobs, jobID, s.schedule(fp.Duration))
	switch {
	case err == nil:
		s.finalize(ctx, msgID, text, store.StatusReady)
		s.cache.Put(fp.Hash, text)
		s.similar.Register(fp.Hash, fp.Hash, 1.0)
		s.putShared(ctx, fp.Hash, text)
		job.Complete(text)
		log.Info("transcription completed", "message_id", msgID, "chars", len(text))
	case apperr.IsCode(err, apperr.CodeTimeout):
		// Explicit empty transcript; the UI must never spin forever
		s.finalize(ctx, msgID, "", store.StatusReady)
		job.Complete("")
		log.Warn("transcription timed out, finalized empty", "message_id", msgID)
	default:
		s.finalize(ctx, msgID, "", store.StatusFailed)
		job.Fail(err)
		log.Error("transcription failed", "message_id", msgID, "error", err)
	}
}

// recover is the simplified path for capture-related fingerprint failures
// seen under rapid successive recordings: re-fingerprint once, minimal
// record, flat-interval polling.
func (s *Service) recover(ctx context.Context, audioPath, senderID, groupID string, release func()) (Receipt, error) {
	fp, err := s.deps.Fingerprint(audioPath)
	if err != nil {
		release()
		return Receipt{}, err
	}

	msgID := s.newID()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "transcribe_recover")
		defer span.End()
		span.SetAttr("message_id", msgID)
		log := trace.Logger(ctx)
		defer func() {
			s.removeTemp(ctx, audioPath)
			release()
		}()

		audioURL, err := s.deps.Uploader.Upload(ctx, audioPath, fp.Hash)
		if err != nil {
			log.Error("recovery upload failed", "error", err)
			s.persistFailed(ctx, msgID, fp, senderID, groupID)
			return
		}

		rec := store.Record{
			ID:               msgID,
			SenderID:         senderID,
			GroupID:          groupID,
			Type:             "voice",
			AudioURL:         audioURL,
			AudioHash:        fp.Hash,
			Duration:         fp.Duration,
			ProcessingStatus: store.StatusProcessing,
		}
		if err := s.deps.Store.Create(ctx, rec); err != nil {
			log.Error("recovery record create failed", "error", err)
			return
		}

		jobID, err := s.deps.Jobs.Submit(ctx, audioURL)
		if err != nil {
			s.finalize(ctx, msgID, "", store.StatusFailed)
			return
		}

		text, err := pollJob(ctx, s.deps.Jobs, jobID, newRecoveryBackoff())
		switch {
		case err == nil:
			s.finalize(ctx, msgID, text, store.StatusReady)
			s.cache.Put(fp.Hash, text)
		case apperr.IsCode(err, apperr.CodeTimeout):
			s.finalize(ctx, msgID, "", store.StatusReady)
		default:
			s.finalize(ctx, msgID, "", store.StatusFailed)
		}
	}()

	return Receipt{
		MessageID:     msgID,
		Status:        StatusProcessing,
		EstimatedTime: estimate(fp.Duration),
		AudioHash:     fp.Hash,
	}, nil
}

// Preload speculatively transcribes a capture before anyone asks for it.
// No record is created and the file is left in place; a later
// FastTranscribe for the same hash adopts the job or its result.
func (s *Service) Preload(ctx context.Context, audioPath string) {
	ctx, span := trace.StartSpan(ctx, "transcribe_preload")
	defer span.End()
	log := trace.Logger(ctx)

	fp, err := s.deps.Fingerprint(audioPath)
	if err != nil {
		log.Debug("preload fingerprint failed", "path", audioPath, "error", err)
		return
	}
	if _, ok := s.cache.Get(fp.Hash); ok {
		return
	}

	job, owner := s.preload.Register(fp.Hash)
	if !owner {
		return
	}
	job.Start()

	audioURL, err := s.deps.Uploader.Upload(ctx, audioPath, fp.Hash)
	if err != nil {
		job.Fail(err)
		return
	}

	var jobID string
	err = resilience.Retry(ctx, resilience.JobRetryConfig(), func() error {
		return s.breaker.Execute(func() error {
			var serr error
			jobID, serr = s.deps.Jobs.Submit(ctx, audioURL)
			return serr
		})
	})
	if err != nil {
		job.Fail(err)
		return
	}

	text, err := pollJob(ctx, s.deps.Jobs, jobID, s.schedule(fp.Duration))
	if err != nil {
		job.Fail(err)
		return
	}
	// The first consumer promotes the result into the exact cache.
	s.putShared(ctx, fp.Hash, text)
	job.Complete(text)
	log.Info("preloaded transcription", "audio_hash", fp.Hash, "chars", len(text))
}

func (s *Service) persistFailed(ctx context.Context, msgID string, fp Fingerprint, senderID, groupID string) {
	rec := store.Record{
		ID:               msgID,
		SenderID:         senderID,
		GroupID:          groupID,
		Type:             "voice",
		AudioHash:        fp.Hash,
		Duration:         fp.Duration,
		ProcessingStatus: store.StatusFailed,
	}
	if err := s.deps.Store.Create(ctx, rec); err != nil {
		trace.Logger(ctx).Error("persist failed record", "message_id", msgID, "error", err)
	}
}

func (s *Service) finalize(ctx context.Context, msgID, text string, status store.Status) {
	if err := s.deps.Store.SetTranscription(ctx, msgID, text, status); err != nil {
		trace.Logger(ctx).Warn("finalize message failed", "message_id", msgID, "error", err)
	}
}

func (s *Service) putShared(ctx context.Context, audioHash, text string) {
	if s.deps.Shared == nil {
		return
	}
	if err := s.deps.Shared.Put(ctx, audioHash, text, s.deps.CacheTTL); err != nil {
		trace.Logger(ctx).Debug("shared cache put failed", "error", err)
	}
}

func (s *Service) removeTemp(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		trace.Logger(ctx).Debug("temp audio cleanup failed", "path", path, "error", err)
	}
}
