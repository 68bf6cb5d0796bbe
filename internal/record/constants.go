// Package record guards a single audio capture session per process and
// exposes idempotent start/stop/cancel transitions.
package record

import "time"

const (
	// Duration ticker cadence while recording
	TickInterval = 1 * time.Second

	// Capture stream shape
	DefaultSampleRate = 16000
	FramesPerBuffer   = 1024
	CaptureChannels   = 1

	// WAV output
	BitsPerSample = 16
)
