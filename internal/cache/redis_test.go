package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewRedisStoreWithClient(client, zap.NewNop())

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, srv
}

func TestRedisStore_PutGet(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	entry := &Entry{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"ok":true}`),
		StoredAt:   time.Now(),
		ExpiresAt:  time.Now().Add(time.Minute),
	}

	require.NoError(t, store.Put(ctx, "k1", entry, time.Minute))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)

	if string(got.Body) != `{"ok":true}` {
		t.Errorf("Unexpected body: %s", got.Body)
	}

	if got.Headers["Content-Type"] != "application/json" {
		t.Errorf("Unexpected headers: %v", got.Headers)
	}
}

func TestRedisStore_MissReturnsNil(t *testing.T) {
	store, _ := newTestRedisStore(t)

	got, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)

	if got != nil {
		t.Error("Expected nil entry for missing key")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, srv := newTestRedisStore(t)
	ctx := context.Background()

	entry := &Entry{
		StatusCode: 200,
		Body:       []byte("short lived"),
		StoredAt:   time.Now(),
		ExpiresAt:  time.Now().Add(time.Second),
	}

	require.NoError(t, store.Put(ctx, "k1", entry, time.Second))

	// miniredis advances TTLs manually.
	srv.FastForward(2 * time.Second)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)

	if got != nil {
		t.Error("Expected entry to expire server side")
	}
}

func TestRedisStore_DeleteAndLen(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	for _, key := range []Key{"a", "b", "c"} {
		entry := &Entry{
			StatusCode: 200,
			Body:       []byte(key),
			StoredAt:   time.Now(),
			ExpiresAt:  time.Now().Add(time.Minute),
		}
		require.NoError(t, store.Put(ctx, key, entry, time.Minute))
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, store.Delete(ctx, "b"))

	n, err = store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCache_RedisBackend(t *testing.T) {
	store, _ := newTestRedisStore(t)
	c := NewWithStore(store, time.Minute, nil, zap.NewNop())
	ctx := context.Background()

	key := ComputeKey("POST", "/v1/chat", []byte(`{"model":"m1"}`), nil)

	require.NoError(t, c.Put(ctx, key, &Entry{StatusCode: 200, Body: []byte("reply")}, 0))

	entry, ok := c.Get(ctx, key)
	require.True(t, ok)
	require.Equal(t, "reply", string(entry.Body))
}
