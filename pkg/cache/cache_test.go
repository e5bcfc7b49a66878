package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifiesConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := New(Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Client().Ping(context.Background()).Err())
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	_, err := New(Config{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestContextAppliesTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := New(Config{Addr: mr.Addr(), Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := store.Context(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(100*time.Millisecond), deadline, 50*time.Millisecond)

	// A nil parent still yields a bounded context.
	ctx2, cancel2 := store.Context(nil)
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.True(t, ok)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "session:doc-1", SessionKey("doc-1"))
	assert.Equal(t, "doc:content:doc-1", ContentKey("doc-1"))
	assert.Equal(t, "rate_limit:p1:crdt-update", RateLimitKey("p1", "crdt-update"))
	assert.Equal(t, "rate_limit_block:p1:crdt-update", RateLimitBlockKey("p1", "crdt-update"))
	assert.Equal(t, "channel:doc-1", TopicKey("doc-1"))
}
