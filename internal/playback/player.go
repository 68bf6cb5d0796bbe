// Package playback plays voice messages through the shared output device.
package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	wav "github.com/youpy/go-wav"

	"voicerelay/internal/apperr"
)

const framesPerBuffer = 1024

// PortaudioPlayer fetches WAV audio by URL and plays it on the default
// output device. The output handle is the one shared resource here: starting
// a new playback cancels whatever was playing, last writer wins.
type PortaudioPlayer struct {
	client *http.Client

	mu         sync.Mutex
	cancelPrev context.CancelFunc
}

// New creates a player.
func New() *PortaudioPlayer {
	return &PortaudioPlayer{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Play fetches and plays the audio, blocking until it finishes or ctx is
// cancelled. Any playback already in progress is torn down first.
func (p *PortaudioPlayer) Play(ctx context.Context, audioURL string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancelPrev != nil {
		p.cancelPrev()
	}
	p.cancelPrev = cancel
	p.mu.Unlock()

	data, err := p.fetch(ctx, audioURL)
	if err != nil {
		return err
	}

	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "decode wav header")
	}

	if err := portaudio.Initialize(); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "initialize audio host")
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "no output device")
	}

	channels := int(format.NumChannels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "open output stream")
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "start output stream")
	}
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		samples, err := r.ReadSamples(uint32(framesPerBuffer))
		if len(samples) == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return apperr.Wrap(err, apperr.CodeInternal, "decode samples")
			}
			return nil
		}

		for i := range buf {
			buf[i] = 0
		}
		for i, s := range samples {
			for ch := 0; ch < channels; ch++ {
				buf[i*channels+ch] = int16(r.IntValue(s, uint(ch)))
			}
		}
		if err := stream.Write(); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "write output stream")
		}
	}
}

func (p *PortaudioPlayer) fetch(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidArgument, "build audio request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "fetch audio")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.CodeUnavailable, "audio fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "read audio body")
	}
	return data, nil
}
