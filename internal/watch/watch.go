// Package watch observes the recordings directory and speculatively
// transcribes finished captures before anyone asks for them.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a file must stay quiet after its last write
// before it is considered fully flushed.
const settleDelay = 500 * time.Millisecond

// Transcriber is the preload entry point of the transcription pipeline.
type Transcriber interface {
	Preload(ctx context.Context, path string)
}

// Watcher preloads transcriptions for WAV files appearing in a directory.
type Watcher struct {
	dir string
	svc Transcriber
	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher over dir.
func New(dir string, svc Transcriber) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:    dir,
		svc:    svc,
		fsw:    fsw,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	slog.Info("watching recordings directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			if strings.ToLower(filepath.Ext(ev.Name)) != ".wav" {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("recordings watcher error", "error", err)
		}
	}
}

// schedule (re)arms the settle timer for a path. Each write pushes the
// preload back until the file stops changing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.timers[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.svc.Preload(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
