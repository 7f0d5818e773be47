package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the feedback_logs table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS feedback_logs (
    id              UUID PRIMARY KEY,
    profile         TEXT NOT NULL,
    exercise_set_id TEXT NOT NULL DEFAULT '',
    exercise_id     TEXT NOT NULL DEFAULT '',
    phrase          TEXT NOT NULL DEFAULT '',
    ipa             TEXT NOT NULL DEFAULT '',
    phonetic        TEXT NOT NULL DEFAULT '',
    user_transcript TEXT NOT NULL DEFAULT '',
    ref_transcript  TEXT NOT NULL DEFAULT '',
    deviations      JSONB NOT NULL DEFAULT '[]',
    status          TEXT NOT NULL,
    comment         TEXT NOT NULL DEFAULT '',
    similarity      DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversation_id TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_feedback_logs_profile ON feedback_logs(profile, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Sink] backed by a PostgreSQL table. Rows are only ever
// inserted.
type PostgresStore struct {
	db DB
}

var _ Sink = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] before the first append.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Name implements the optional naming interface used for metric labels.
func (s *PostgresStore) Name() string { return "postgres" }

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("feedback: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity. Used as a readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("feedback: ping: %w", err)
	}
	return nil
}

// Append inserts rec.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	devs := rec.Deviations
	if devs == nil {
		devs = []Deviation{}
	}
	devJSON, err := json.Marshal(devs)
	if err != nil {
		return fmt.Errorf("feedback: marshal deviations: %w", err)
	}

	const query = `
		INSERT INTO feedback_logs (
			id, profile, exercise_set_id, exercise_id, phrase, ipa, phonetic,
			user_transcript, ref_transcript, deviations, status, comment,
			similarity, conversation_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.Profile, rec.ExerciseSetID, rec.ExerciseID, rec.Phrase, rec.IPA, rec.Phonetic,
		rec.UserTranscript, rec.RefTranscript, devJSON, string(rec.Status), rec.Comment,
		rec.Similarity, rec.ConversationID, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("feedback: insert: %w", err)
	}
	return nil
}
