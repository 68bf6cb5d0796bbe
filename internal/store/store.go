// Package store persists durable message records.
package store

import (
	"context"
	"sync"
	"time"

	"voicerelay/internal/apperr"
)

// Status is the processing lifecycle of a durable record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Record is a durable message row. Field names mirror the chat backend's
// message schema (audioUrl, transcription, processingStatus).
type Record struct {
	ID               string        `db:"id" json:"id"`
	SenderID         string        `db:"sender_id" json:"senderId"`
	GroupID          string        `db:"group_id" json:"groupChatId"`
	Type             string        `db:"type" json:"type"`
	AudioURL         string        `db:"audio_url" json:"audioUrl,omitempty"`
	AudioHash        string        `db:"audio_hash" json:"audioHash,omitempty"`
	Duration         time.Duration `db:"duration" json:"duration,omitempty"`
	Transcription    string        `db:"transcription" json:"transcription"`
	ProcessingStatus Status        `db:"processing_status" json:"processingStatus"`
	CreatedAt        time.Time     `db:"created_at" json:"timestamp"`
}

// MessageStore is the durable record API the pipeline writes through.
type MessageStore interface {
	Create(ctx context.Context, rec Record) error
	SetTranscription(ctx context.Context, id, transcription string, status Status) error
	SetStatus(ctx context.Context, id string, status Status) error
	SetAudioURL(ctx context.Context, id, url string) error
	Get(ctx context.Context, id string) (Record, error)
}

// MemoryStore is an in-memory MessageStore for tests and single-node use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Create stores a new record.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records[rec.ID] = rec
	return nil
}

// SetTranscription updates transcription text and status together.
func (s *MemoryStore) SetTranscription(_ context.Context, id, transcription string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "message %s", id)
	}
	rec.Transcription = transcription
	rec.ProcessingStatus = status
	s.records[id] = rec
	return nil
}

// SetStatus updates only the processing status.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "message %s", id)
	}
	rec.ProcessingStatus = status
	s.records[id] = rec
	return nil
}

// SetAudioURL records the uploaded audio location.
func (s *MemoryStore) SetAudioURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "message %s", id)
	}
	rec.AudioURL = url
	s.records[id] = rec
	return nil
}

// Get returns a record by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, apperr.Newf(apperr.CodeNotFound, "message %s", id)
	}
	return rec, nil
}
