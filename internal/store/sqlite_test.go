package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "chat.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	turns := []Turn{
		{ConversationID: "c1", Service: "claude", Role: RoleUser, Content: "Hello", CreatedAt: base},
		{ConversationID: "c1", Service: "claude", Role: RoleAssistant, Content: "Hi there", CreatedAt: base.Add(time.Second), Metadata: map[string]any{"method": "click"}},
		{ConversationID: "c2", Service: "gemini", Role: RoleUser, Content: "Other", CreatedAt: base.Add(2 * time.Second)},
		{ConversationID: "c1", Service: "claude", Role: RoleUser, Content: "Again", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, turn := range turns {
		require.NoError(t, s.SaveTurn(ctx, turn))
	}

	got, err := s.ListTurns(ctx, "claude", 2)
	require.NoError(t, err)
	want := []Turn{
		{ConversationID: "c1", Service: "claude", Role: RoleAssistant, Content: "Hi there", CreatedAt: base.Add(time.Second), Metadata: map[string]any{"method": "click"}},
		{ConversationID: "c1", Service: "claude", Role: RoleUser, Content: "Again", CreatedAt: base.Add(3 * time.Second)},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Turn{}, "ID")); diff != "" {
		t.Errorf("ListTurns mismatch (-want +got):\n%s", diff)
	}
	for _, turn := range got {
		assert.NotEmpty(t, turn.ID)
	}

	all, err := s.ListTurns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Hello", all[0].Content)
	assert.Equal(t, "gemini", all[2].Service)
}

func TestSQLiteRejectsInvalidTurn(t *testing.T) {
	s := openTestSQLite(t)
	assert.Error(t, s.SaveTurn(context.Background(), Turn{Service: "claude", Role: "robot"}))
}

func TestSQLiteDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	turn := Turn{ID: "fixed", Service: "claude", Role: RoleUser, Content: "x"}
	require.NoError(t, s.SaveTurn(ctx, turn))
	assert.ErrorContains(t, s.SaveTurn(ctx, turn), "failed to insert turn")
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")
	logger := zaptest.NewLogger(t)

	s, err := OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	require.NoError(t, s.SaveTurn(ctx, Turn{Service: "chatgpt", Role: RoleUser, Content: "kept"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ListTurns(ctx, "chatgpt", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Content)
}
