package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"voicerelay/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	sender_id         TEXT NOT NULL,
	group_id          TEXT NOT NULL,
	type              TEXT NOT NULL DEFAULT 'voice',
	audio_url         TEXT NOT NULL DEFAULT '',
	audio_hash        TEXT NOT NULL DEFAULT '',
	duration          BIGINT NOT NULL DEFAULT 0,
	transcription     TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_group_idx ON messages (group_id, created_at);`

// PostgresStore is a MessageStore backed by Postgres.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUnavailable, "connect postgres")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(err, apperr.CodeStoreFailed, "ensure schema")
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Create stores a new record.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	const q = `INSERT INTO messages
		(id, sender_id, group_id, type, audio_url, audio_hash, duration, transcription, processing_status)
		VALUES (:id, :sender_id, :group_id, :type, :audio_url, :audio_hash, :duration, :transcription, :processing_status)`
	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailed, "insert message")
	}
	return nil
}

// SetTranscription updates transcription text and status together.
func (s *PostgresStore) SetTranscription(ctx context.Context, id, transcription string, status Status) error {
	const q = `UPDATE messages SET transcription = $2, processing_status = $3 WHERE id = $1`
	return s.exec(ctx, q, id, transcription, status)
}

// SetStatus updates only the processing status.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	const q = `UPDATE messages SET processing_status = $2 WHERE id = $1`
	return s.exec(ctx, q, id, status)
}

// SetAudioURL records the uploaded audio location.
func (s *PostgresStore) SetAudioURL(ctx context.Context, id, url string) error {
	const q = `UPDATE messages SET audio_url = $2 WHERE id = $1`
	return s.exec(ctx, q, id, url)
}

// Get returns a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM messages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.Newf(apperr.CodeNotFound, "message %s", id)
	}
	if err != nil {
		return Record{}, apperr.Wrap(err, apperr.CodeStoreFailed, "select message")
	}
	return rec, nil
}

func (s *PostgresStore) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailed, "update message")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.CodeNotFound, "message not found")
	}
	return nil
}
