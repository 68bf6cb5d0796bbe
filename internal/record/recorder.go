package record

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
	wav "github.com/youpy/go-wav"

	"voicerelay/internal/apperr"
)

// Recorder is the capture device behind the arbiter. Begin opens the device
// and starts buffering frames, Finalize flushes them into a WAV file and
// returns its path, Discard drops the session without writing.
type Recorder interface {
	Begin(ctx context.Context) error
	Finalize() (string, error)
	Discard() error
}

// PortaudioRecorder captures mono int16 frames from the default input device.
// Frames accumulate in memory until Finalize; voice messages are short enough
// that the buffer stays small.
type PortaudioRecorder struct {
	dir        string
	sampleRate int

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	done    chan struct{}
	samples []int16
	active  bool
}

// NewPortaudioRecorder creates a recorder writing WAV files into dir.
func NewPortaudioRecorder(dir string, sampleRate int) *PortaudioRecorder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &PortaudioRecorder{dir: dir, sampleRate: sampleRate}
}

// Begin opens the default input device and starts reading frames.
func (r *PortaudioRecorder) Begin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return apperr.New(apperr.CodeCaptureRace, "capture session already open")
	}

	if err := portaudio.Initialize(); err != nil {
		return apperr.Wrap(err, apperr.CodeCaptureFailed, "initialize audio host")
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return apperr.Wrap(err, apperr.CodeCaptureDenied, "no input device")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: CaptureChannels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(r.sampleRate),
		FramesPerBuffer: FramesPerBuffer,
	}

	buf := make([]int16, FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return apperr.Wrap(err, apperr.CodeCaptureFailed, "open input stream")
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return apperr.Wrap(err, apperr.CodeCaptureFailed, "start input stream")
	}

	readCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.stream = stream
	r.cancel = cancel
	r.done = done
	r.samples = r.samples[:0]
	r.active = true

	go func() {
		defer close(done)
		for {
			select {
			case <-readCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				slog.Debug("capture read error", "error", err)
				return
			}

			r.mu.Lock()
			r.samples = append(r.samples, buf...)
			r.mu.Unlock()
		}
	}()

	return nil
}

// Finalize stops the stream and writes the buffered frames to a WAV file.
func (r *PortaudioRecorder) Finalize() (string, error) {
	samples, err := r.teardown()
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, uuid.NewString()+".wav")
	if err := writeWAV(path, samples, r.sampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// Discard stops the stream and drops the buffered frames.
func (r *PortaudioRecorder) Discard() error {
	_, err := r.teardown()
	return err
}

func (r *PortaudioRecorder) teardown() ([]int16, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, apperr.New(apperr.CodeCaptureRace, "no capture session")
	}
	r.active = false
	cancel, done, stream := r.cancel, r.done, r.stream
	r.cancel, r.done, r.stream = nil, nil, nil
	r.mu.Unlock()

	cancel()
	<-done
	_ = stream.Stop()
	_ = stream.Close()
	_ = portaudio.Terminate()

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()
	return samples, nil
}

// writeWAV encodes mono int16 samples into a WAV file.
func writeWAV(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeCaptureFailed, "create %s", path)
	}
	defer f.Close()

	w := wav.NewWriter(f, uint32(len(samples)), CaptureChannels, uint32(sampleRate), BitsPerSample)
	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(s)
	}
	if err := w.WriteSamples(out); err != nil {
		return apperr.Wrap(err, apperr.CodeCaptureFailed, "write samples")
	}
	return nil
}
