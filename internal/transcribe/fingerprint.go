package transcribe

import (
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	wav "github.com/youpy/go-wav"

	"voicerelay/internal/apperr"
)

// Fingerprint is a fast, non-cryptographic identity for an audio capture.
// It exists to key the cache tier; collisions cost a redundant network call,
// never a correctness violation.
type Fingerprint struct {
	Hash     string
	Duration time.Duration
	Size     int64
}

// Fingerprinter computes fingerprints; a func type so tests can fake it.
type Fingerprinter func(path string) (Fingerprint, error)

// FingerprintFile hashes the raw audio bytes and probes WAV duration.
// The duration probe is best effort and defaults to zero on failure.
func FingerprintFile(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, apperr.Wrapf(err, apperr.CodeCaptureFailed, "audio file %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Fingerprint{}, apperr.Wrapf(err, apperr.CodeCaptureFailed, "read audio %s", path)
	}
	if len(data) == 0 {
		return Fingerprint{}, apperr.Newf(apperr.CodeCaptureFailed, "empty audio file %s", path)
	}

	return Fingerprint{
		Hash:     fmt.Sprintf("%016x", xxhash.Sum64(data)),
		Duration: probeDuration(path, info.Size()),
		Size:     info.Size(),
	}, nil
}

// wavHeaderSize is the canonical RIFF/fmt/data header length.
const wavHeaderSize = 44

// probeDuration reads the WAV format chunk and derives audio length from the
// byte rate and payload size.
func probeDuration(path string, fileSize int64) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	format, err := wav.NewReader(f).Format()
	if err != nil || format.ByteRate == 0 {
		return 0
	}
	payload := fileSize - wavHeaderSize
	if payload <= 0 {
		return 0
	}
	return time.Duration(float64(payload) / float64(format.ByteRate) * float64(time.Second))
}

// estimate derives a user-facing completion estimate from audio duration.
func estimate(duration time.Duration) time.Duration {
	est := time.Duration(float64(duration)*EstimateFactor) + EstimatePad
	if est > EstimateCap {
		est = EstimateCap
	}
	return est
}
