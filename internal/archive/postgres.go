package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

// Schema is the SQL DDL for the turn_archive table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS turn_archive (
    turn_id     TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ NOT NULL,
    transcript  TEXT NOT NULL DEFAULT '',
    reply       TEXT NOT NULL DEFAULT '',
    audio       BYTEA NOT NULL DEFAULT ''::bytea,
    sample_rate INT NOT NULL DEFAULT 0,
    channels    INT NOT NULL DEFAULT 0,
    video_path  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_turn_archive_started ON turn_archive(started_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// turn_archive table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Save implements Store. Saving the same TurnID twice overwrites the row.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	if rec.TurnID == uuid.Nil {
		return errors.New("archive: record has no turn id")
	}

	const q = `
INSERT INTO turn_archive
    (turn_id, started_at, ended_at, transcript, reply, audio, sample_rate, channels, video_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (turn_id) DO UPDATE SET
    started_at  = EXCLUDED.started_at,
    ended_at    = EXCLUDED.ended_at,
    transcript  = EXCLUDED.transcript,
    reply       = EXCLUDED.reply,
    audio       = EXCLUDED.audio,
    sample_rate = EXCLUDED.sample_rate,
    channels    = EXCLUDED.channels,
    video_path  = EXCLUDED.video_path`

	_, err := s.db.Exec(ctx, q,
		rec.TurnID.String(), rec.StartedAt, rec.EndedAt,
		rec.Transcript, rec.Reply, rec.Audio,
		rec.Format.SampleRate, rec.Format.Channels, rec.VideoPath)
	if err != nil {
		return fmt.Errorf("archive: save turn %s: %w", rec.TurnID, err)
	}
	return nil
}

// Get loads one record by turn ID. Returns pgx.ErrNoRows via the wrapped
// error when the turn is not archived.
func (s *PostgresStore) Get(ctx context.Context, turnID uuid.UUID) (*Record, error) {
	const q = `
SELECT started_at, ended_at, transcript, reply, audio, sample_rate, channels, video_path
FROM turn_archive WHERE turn_id = $1`

	rec := &Record{TurnID: turnID}
	var sampleRate, channels int
	err := s.db.QueryRow(ctx, q, turnID.String()).Scan(
		&rec.StartedAt, &rec.EndedAt, &rec.Transcript, &rec.Reply,
		&rec.Audio, &sampleRate, &channels, &rec.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("archive: get turn %s: %w", turnID, err)
	}
	rec.Format = types.PCMFormat{SampleRate: sampleRate, Channels: channels, BytesPerSample: 2}
	return rec, nil
}
