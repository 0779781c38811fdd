package sessions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService() (*SessionService, *InMemoryStore) {
	store := NewInMemoryStore()
	svc := NewSessionService(store, zap.NewNop())
	svc.now = func() time.Time { return baseTime }
	return svc, store
}

func TestNewSession(t *testing.T) {
	svc, _ := newTestService()

	a := svc.NewSession()
	b := svc.NewSession()

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, DefaultTitle, a.Title)
	assert.Equal(t, PhaseOutline, a.Phase)
	require.Len(t, a.Messages, 1)
	assert.Equal(t, RoleSystem, a.Messages[0].Role)
	assert.True(t, a.IsPristine())
}

func TestSaveSkipsPristineSessions(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	s := svc.NewSession()
	require.NoError(t, svc.Save(ctx, s))

	entries, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveKeepsRenamedFreshSession(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	s := svc.NewSession()
	s.Title = "Kickoff"
	assert.False(t, s.IsPristine())
	require.NoError(t, svc.Save(ctx, s))

	entries, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Kickoff", entries[0].Title)
}

func TestSaveDerivesTitleAndPreview(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	s := svc.NewSession()
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: "  Quarterly results for the board meeting  "})
	require.NoError(t, svc.Save(ctx, s))

	assert.Equal(t, "Quarterly resul", s.Title)
	assert.Equal(t, baseTime, s.UpdatedAt)

	entries, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Quarterly results for the boar", entries[0].Preview)

	// an explicit title is never overwritten
	s.Title = "Board deck"
	require.NoError(t, svc.Save(ctx, s))
	got, err := svc.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Board deck", got.Title)
}

func TestSaveTitleCountsRunes(t *testing.T) {
	svc, _ := newTestService()

	s := svc.NewSession()
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: strings.Repeat("幻", 20)})
	require.NoError(t, svc.Save(context.Background(), s))

	assert.Equal(t, strings.Repeat("幻", 15), s.Title)
}

func TestSavePristineRemovesStoredRecord(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	s := svc.NewSession()
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: "hello"})
	require.NoError(t, svc.Save(ctx, s))

	// reset back to the welcome state
	s.Messages = s.Messages[:1]
	require.NoError(t, svc.Save(ctx, s))

	_, err := store.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRename(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	s := svc.NewSession()
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: "hello"})
	require.NoError(t, svc.Save(ctx, s))

	renamed, err := svc.Rename(ctx, s.ID, "  Launch plan ")
	require.NoError(t, err)
	assert.Equal(t, "Launch plan", renamed.Title)

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Launch plan", entries[0].Title)

	_, err = svc.Rename(ctx, s.ID, "   ")
	assert.Error(t, err)

	_, err = svc.Rename(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	assert.Error(t, svc.Delete(ctx, ""))
	assert.ErrorIs(t, svc.Delete(ctx, "missing"), ErrSessionNotFound)
}
