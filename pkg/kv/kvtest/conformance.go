// Package kvtest holds the behaviour every kv.Store must share.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickerboard/tickerboard-backend/pkg/kv"
)

// StoreFactory creates a fresh, empty Store.
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs the shared checks against a Store implementation.
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetMissing", testGetMissing},
		{"Overwrite", testOverwrite},
		{"Del", testDel},
		{"Exists", testExists},
		{"Expiry", testExpiry},
		{"TTL", testTTL},
		{"Ping", testPing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tc.fn(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "kvtest:catalog", []byte(`["BTCUSDT"]`), 0))

	got, err := store.Get(ctx, "kvtest:catalog")
	require.NoError(t, err)
	assert.Equal(t, []byte(`["BTCUSDT"]`), got)
}

func testGetMissing(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "kvtest:missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "kvtest:k", []byte("a"), 0))
	require.NoError(t, store.Set(ctx, "kvtest:k", []byte("b"), 0))

	got, err := store.Get(ctx, "kvtest:k")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "kvtest:a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "kvtest:b", []byte("2"), 0))

	n, err := store.Del(ctx, "kvtest:a", "kvtest:b", "kvtest:none")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.Get(ctx, "kvtest:a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "kvtest:present", []byte("1"), 0))

	n, err := store.Exists(ctx, "kvtest:present", "kvtest:absent")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "kvtest:short", []byte("1"), 50*time.Millisecond))

	_, err := store.Get(ctx, "kvtest:short")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "kvtest:short")
		return err == kv.ErrNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "kvtest:forever", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "kvtest:minute", []byte("1"), time.Minute))

	ttl, err := store.TTL(ctx, "kvtest:forever")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	ttl, err = store.TTL(ctx, "kvtest:minute")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl %s", ttl)

	_, err = store.TTL(ctx, "kvtest:none")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testPing(t *testing.T, store kv.Store) {
	assert.NoError(t, store.Ping(context.Background()))
}
