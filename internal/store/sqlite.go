// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    service         TEXT NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_service_created ON turns (service, created_at);
`

// SQLite is the default file-backed transcript store.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand store path %q: %w", path, err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", expanded+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between goroutines of this process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	logger.Named("store").Debug("SQLite transcript store opened.", zap.String("path", expanded))
	return &SQLite{db: db, log: logger.Named("store")}, nil
}

func (s *SQLite) SaveTurn(ctx context.Context, t Turn) error {
	t, err := prepare(t)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, service, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Service, t.Role, t.Content, meta, t.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

func (s *SQLite) ListTurns(ctx context.Context, service string, limit int) ([]Turn, error) {
	query := `SELECT id, conversation_id, service, role, content, metadata, created_at FROM turns`
	var args []any
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t     Turn
			meta  []byte
			nanos int64
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Service, &t.Role, &t.Content, &meta, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		t.CreatedAt = time.Unix(0, nanos).UTC()
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

func (s *SQLite) Close() error {
	return s.db.Close()
}
