// internal/store/postgres.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with a mock pool.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_turns (
    id              UUID PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    service         TEXT NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_service_created ON chat_turns (service, created_at);
`

const postgresInsertTurn = `
INSERT INTO chat_turns (id, conversation_id, service, role, content, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

const postgresSelectTurns = `
SELECT id, conversation_id, service, role, content, metadata, created_at
FROM chat_turns
WHERE ($1 = '' OR service = $1)
ORDER BY created_at DESC
LIMIT $2;
`

// Postgres stores transcripts in a shared PostgreSQL database.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres verifies the connection and applies the schema.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool, log: logger.Named("store")}, nil
}

func (s *Postgres) SaveTurn(ctx context.Context, t Turn) error {
	t, err := prepare(t)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, postgresInsertTurn,
		t.ID, t.ConversationID, t.Service, t.Role, t.Content, meta, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// allRows is the LIMIT used when the caller asks for everything.
const allRows = int64(1<<31 - 1)

func (s *Postgres) ListTurns(ctx context.Context, service string, limit int) ([]Turn, error) {
	n := allRows
	if limit > 0 {
		n = int64(limit)
	}
	rows, err := s.pool.Query(ctx, postgresSelectTurns, service, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t    Turn
			meta []byte
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Service, &t.Role, &t.Content, &meta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		if t.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return chronological(turns), nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
