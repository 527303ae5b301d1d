// Package store persists the transcript of every exchange the orchestrator makes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/config"
)

// Role of the author of a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation with a service.
type Turn struct {
	ID             string
	ConversationID string
	Service        string
	Role           string
	Content        string
	CreatedAt      time.Time
	// Metadata holds free-form details such as latency or the submit method.
	Metadata map[string]any
}

// Store is a transcript backend.
type Store interface {
	SaveTurn(ctx context.Context, t Turn) error
	// ListTurns returns the newest limit turns of service in chronological order.
	// An empty service lists every service and a non-positive limit lists everything.
	ListTurns(ctx context.Context, service string, limit int) ([]Turn, error)
	Close() error
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.StoreDriverSQLite:
		return OpenSQLite(ctx, cfg.Path, logger)
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.StoreDriverNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// prepare fills the generated fields of t.
func prepare(t Turn) (Turn, error) {
	if t.Service == "" {
		return t, fmt.Errorf("turn has no service")
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return t, fmt.Errorf("invalid turn role %q", t.Role)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	s, err := jsoniter.MarshalToString(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode turn metadata: %w", err)
	}
	return s, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := jsoniter.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode turn metadata: %w", err)
	}
	return m, nil
}

// chronological reverses turns fetched newest first.
func chronological(turns []Turn) []Turn {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

// Nop discards every turn.
type Nop struct{}

func (Nop) SaveTurn(context.Context, Turn) error                   { return nil }
func (Nop) ListTurns(context.Context, string, int) ([]Turn, error) { return nil, nil }
func (Nop) Close() error                                           { return nil }
