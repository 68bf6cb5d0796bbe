package transcribe

import (
	"sync"
	"time"
)

// SimilarityEntry points an audio hash at a representative hash whose cached
// transcription is close enough to reuse.
type SimilarityEntry struct {
	AudioHash      string
	Representative string
	Similarity     float64
	Timestamp      time.Time
}

// SimilarityFunc scores two fingerprints in [0,1]. The default registers a
// hash only as similar to itself with score 1.0: a placeholder extension
// point, not working near-duplicate detection.
type SimilarityFunc func(a, b Fingerprint) float64

// SelfSimilarity is the identity scorer.
func SelfSimilarity(a, b Fingerprint) float64 {
	if a.Hash == b.Hash {
		return 1.0
	}
	return 0
}

// SimilarityIndex maps audio hashes to representatives above a threshold.
type SimilarityIndex struct {
	mu        sync.RWMutex
	entries   map[string]SimilarityEntry
	threshold float64
	maxAge    time.Duration
	now       func() time.Time
}

// NewSimilarityIndex creates an index with the reuse threshold.
func NewSimilarityIndex(threshold float64, maxAge time.Duration) *SimilarityIndex {
	if threshold <= 0 {
		threshold = SimilarityThreshold
	}
	if maxAge <= 0 {
		maxAge = SimilarityMaxAge
	}
	return &SimilarityIndex{
		entries:   make(map[string]SimilarityEntry),
		threshold: threshold,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Register stores a similarity pointer.
func (s *SimilarityIndex) Register(audioHash, representative string, similarity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[audioHash] = SimilarityEntry{
		AudioHash:      audioHash,
		Representative: representative,
		Similarity:     similarity,
		Timestamp:      s.now(),
	}
}

// Lookup returns the representative hash when its score clears the threshold.
func (s *SimilarityIndex) Lookup(audioHash string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[audioHash]
	if !ok || e.Similarity < s.threshold {
		return "", false
	}
	if s.now().Sub(e.Timestamp) >= s.maxAge {
		return "", false
	}
	return e.Representative, true
}

// Sweep removes aged-out pointers and returns how many were evicted.
func (s *SimilarityIndex) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	now := s.now()
	for hash, e := range s.entries {
		if now.Sub(e.Timestamp) >= s.maxAge {
			delete(s.entries, hash)
			evicted++
		}
	}
	return evicted
}
