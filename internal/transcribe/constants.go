// Package transcribe turns local audio captures into transcribed message
// records, hiding latency behind a multi-layer cache tier.
package transcribe

import "time"

// Pipeline configuration constants
const (
	// Serialization of the fingerprint/cache critical section
	LockTimeout = 5 * time.Second

	// Hard wall clock for job polling; past this the record is finalized
	// ready with an empty transcript, never left pending
	PollWallClock = 15 * time.Second

	// Recovery path uses a flat poll interval, trading optimization for
	// robustness under rapid successive captures
	RecoveryPollInterval = 1 * time.Second

	// Completion estimate returned to callers on a cache miss
	EstimateFactor = 2.5
	EstimatePad    = 5 * time.Second
	EstimateCap    = 30 * time.Second

	// Cache tier
	DefaultCacheTTL       = 24 * time.Hour
	DefaultSweepInterval  = 30 * time.Minute
	PreloadMaxAge         = 30 * time.Minute
	SimilarityThreshold   = 0.9
	SimilarityMaxAge      = 24 * time.Hour
	SharedCacheKeyPrefix  = "voicerelay:transcript:"
)

// Complexity tiers pick polling cadence from audio duration. Longer audio
// transcribes slower, so poll less often with a larger attempt budget spread
// over the same wall clock.
type complexityTier struct {
	baseInterval time.Duration
	maxAttempts  uint64
}

var (
	tierLow    = complexityTier{baseInterval: 500 * time.Millisecond, maxAttempts: 20}
	tierMedium = complexityTier{baseInterval: 800 * time.Millisecond, maxAttempts: 15}
	tierHigh   = complexityTier{baseInterval: 1200 * time.Millisecond, maxAttempts: 12}
)

func tierFor(duration time.Duration) complexityTier {
	switch {
	case duration < 10*time.Second:
		return tierLow
	case duration < 30*time.Second:
		return tierMedium
	default:
		return tierHigh
	}
}
