package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	cache, err := NewCache("", logger.Sugar(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestUnreachableRedisFallsBackToMemory(t *testing.T) {
	cache, err := NewCache("127.0.0.1:1", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	defer cache.Close()

	assert.True(t, cache.IsInMemoryMode())
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestInMemoryGetSet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	type catalog struct {
		Symbols []string `json:"symbols"`
	}
	key := CatalogKey("USDT")
	assert.Equal(t, "tb:catalog:USDT", key)

	var got catalog
	assert.ErrorIs(t, cache.Get(ctx, key, &got), ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, key, catalog{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, time.Minute))
	require.NoError(t, cache.Get(ctx, key, &got))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got.Symbols)

	ok, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, cache.Delete(ctx, key))
	assert.ErrorIs(t, cache.Get(ctx, key, &got), ErrCacheMiss)
}

func TestInMemoryExpiry(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, HistoryKey("BTCUSDT"), []float64{1, 2}, 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		var closes []float64
		return cache.Get(ctx, HistoryKey("BTCUSDT"), &closes) == ErrCacheMiss
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryPubSub(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	sub := cache.Subscribe(ctx, ChannelRows)
	defer sub.Close()

	require.NoError(t, cache.Publish(ctx, ChannelRows, map[string]string{"event": "rows"}))
	require.NoError(t, cache.Publish(ctx, "tb:other", map[string]string{"event": "ignored"}))

	select {
	case msg := <-sub.Channel():
		require.NotNil(t, msg)
		assert.Equal(t, ChannelRows, msg.Channel)
		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, "rows", payload["event"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pubsub message")
	}

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected message on %s", msg.Channel)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	cache := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub := cache.Subscribe(ctx, ChannelRows)
	require.Eventually(t, func() bool { return cache.hub.subscriberCount(ChannelRows) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case _, ok := <-sub.Channel():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
	assert.Eventually(t, func() bool { return cache.hub.subscriberCount(ChannelRows) == 0 }, time.Second, time.Millisecond)
	assert.NoError(t, sub.Close())
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "tb:history", keyPrefix("tb:history:BTCUSDT"))
	assert.Equal(t, "plain", keyPrefix("plain"))
}
