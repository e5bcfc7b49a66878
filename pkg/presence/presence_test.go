package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/types"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *cache.Store) {
	mr := miniredis.RunT(t)
	store, err := cache.New(cache.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, ttl), store
}

func TestAddAndListSessions(t *testing.T) {
	registry, _ := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	err := registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p1", DisplayName: "Ada"}, "sock-1", nil)
	require.NoError(t, err)
	err = registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p2", DisplayName: "Grace"}, "sock-2", nil)
	require.NoError(t, err)

	sessions, err := registry.ListSessions(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	n, err := registry.CountSessions(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Another document is empty.
	n, err = registry.CountSessions(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSecondJoinSupersedesSession(t *testing.T) {
	registry, _ := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()
	principal := &types.Principal{ID: "p1", DisplayName: "Ada"}

	require.NoError(t, registry.AddSession(ctx, "doc-1", principal, "sock-old", nil))
	require.NoError(t, registry.AddSession(ctx, "doc-1", principal, "sock-new", nil))

	sessions, err := registry.ListSessions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sock-new", sessions[0].SocketID)
}

func TestRemoveLastSessionDeletesHash(t *testing.T) {
	registry, store := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p1"}, "sock-1", nil))
	removed, err := registry.RemoveSession(ctx, "doc-1", "p1", "sock-1")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err := store.Client().Exists(ctx, cache.SessionKey("doc-1")).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "empty session hash must be deleted")

	// Removing an absent session is a no-op.
	removed, err = registry.RemoveSession(ctx, "doc-1", "p1", "sock-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveSessionBySupersededSocketIsNoop(t *testing.T) {
	registry, _ := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()
	principal := &types.Principal{ID: "p1", DisplayName: "Ada"}

	require.NoError(t, registry.AddSession(ctx, "doc-1", principal, "sock-old", nil))
	require.NoError(t, registry.AddSession(ctx, "doc-1", principal, "sock-new", nil))

	// The old socket's disconnect cleanup must not delete the live session.
	removed, err := registry.RemoveSession(ctx, "doc-1", "p1", "sock-old")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := registry.CountSessions(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The owning socket removes it.
	removed, err = registry.RemoveSession(ctx, "doc-1", "p1", "sock-new")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestTouchRefreshesActivity(t *testing.T) {
	registry, store := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p1"}, "sock-1", nil))

	// Age the record, then touch it back to life.
	stale := types.Session{PrincipalID: "p1", SocketID: "sock-1", LastActive: types.NowMs() - 10*60*1000}
	raw, err := json.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, store.Client().HSet(ctx, cache.SessionKey("doc-1"), "p1", raw).Err())

	require.NoError(t, registry.Touch(ctx, "doc-1", "p1"))

	sessions, err := registry.ListSessions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.InDelta(t, types.NowMs(), sessions[0].LastActive, 2000)
}

func TestTouchAbsentSessionIsNoop(t *testing.T) {
	registry, _ := newTestRegistry(t, 5*time.Minute)
	assert.NoError(t, registry.Touch(context.Background(), "doc-1", "ghost"))
}

func TestTouchSurfacesStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.New(cache.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	registry := New(store, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p1"}, "sock-1", nil))

	// A store outage is an error, not an absent session.
	mr.Close()
	assert.Error(t, registry.Touch(ctx, "doc-1", "p1"))
}

func TestUpdateCursor(t *testing.T) {
	registry, _ := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p1"}, "sock-1", nil))
	cursor := json.RawMessage(`{"anchor":12,"head":40}`)
	require.NoError(t, registry.UpdateCursor(ctx, "doc-1", "p1", cursor))

	sessions, err := registry.ListSessions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.JSONEq(t, string(cursor), string(sessions[0].Cursor))
}

func TestListActiveDocuments(t *testing.T) {
	registry, _ := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "p1"}, "sock-1", nil))
	require.NoError(t, registry.AddSession(ctx, "doc-2", &types.Principal{ID: "p2"}, "sock-2", nil))

	docs, err := registry.ListActiveDocuments(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, docs)
}

func TestSweepStaleRemovesInactiveSessions(t *testing.T) {
	registry, store := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "live"}, "sock-1", nil))
	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "gone"}, "sock-2", nil))

	// Rewrite one session with activity beyond the TTL.
	stale := types.Session{PrincipalID: "gone", SocketID: "sock-2", LastActive: types.NowMs() - 6*60*1000}
	raw, err := json.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, store.Client().HSet(ctx, cache.SessionKey("doc-1"), "gone", raw).Err())

	removed, err := registry.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	sessions, err := registry.ListSessions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "live", sessions[0].PrincipalID)
}

func TestSweepStaleDeletesEmptiedHash(t *testing.T) {
	registry, store := newTestRegistry(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "doc-1", &types.Principal{ID: "gone"}, "sock-1", nil))
	stale := types.Session{PrincipalID: "gone", SocketID: "sock-1", LastActive: types.NowMs() - 6*60*1000}
	raw, err := json.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, store.Client().HSet(ctx, cache.SessionKey("doc-1"), "gone", raw).Err())

	removed, err := registry.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := store.Client().Exists(ctx, cache.SessionKey("doc-1")).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
