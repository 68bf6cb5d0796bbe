// Voicerelay server - delivery queue, recording arbiter and transcription
// pipeline behind an HTTP/WebSocket boundary.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicerelay/internal/config"
	"voicerelay/internal/playback"
	"voicerelay/internal/queue"
	"voicerelay/internal/record"
	"voicerelay/internal/server"
	"voicerelay/internal/store"
	"voicerelay/internal/transcribe"
	"voicerelay/internal/upload"
	"voicerelay/internal/watch"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable message store
	var msgStore store.MessageStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect message store", "error", err)
			os.Exit(1)
		}
		defer func() { _ = pg.Close() }()
		msgStore = pg
	} else {
		slog.Warn("no DATABASE_URL, using in-memory message store")
		msgStore = store.NewMemoryStore()
	}

	// Optional shared transcription cache
	var shared transcribe.SharedCache
	if cfg.RedisAddr != "" {
		redis := transcribe.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = redis.Close() }()
		shared = redis
	}

	// Transcription pipeline
	pipeline := transcribe.NewService(transcribe.Deps{
		Store:      msgStore,
		Uploader:   upload.New(cfg.StorageURL),
		Jobs:       transcribe.NewHTTPJobClient(cfg.TranscribeURL),
		Shared:     shared,
		CacheTTL:   cfg.CacheTTL,
		SweepEvery: cfg.SweepInterval,
	})
	go pipeline.Run(ctx)

	// Recording arbiter
	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		slog.Error("failed to create recordings dir", "dir", cfg.RecordingsDir, "error", err)
		os.Exit(1)
	}
	arbiter := record.NewArbiter(record.NewPortaudioRecorder(cfg.RecordingsDir, cfg.SampleRate))

	// Delivery queue
	q := queue.New(
		queue.StoreAudioSource{Store: msgStore},
		playback.New(),
		queue.Options{
			SelfUserID:          cfg.SelfUserID,
			HighPrioritySenders: cfg.HighPriority,
		},
	)

	// Preload watcher over finished captures
	if cfg.PreloadWatch {
		watcher, err := watch.New(cfg.RecordingsDir, pipeline)
		if err != nil {
			slog.Error("failed to start recordings watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("recordings watcher error", "error", err)
			}
		}()
	}

	srv := server.New(q, arbiter, pipeline, cfg.SelfUserID)

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("voicerelay server starting", "http", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	arbiter.Cancel()
	q.Shutdown()
	pipeline.Drain()
	slog.Info("shutdown complete")
}
