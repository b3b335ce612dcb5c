package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"go.uber.org/zap"
)

type sseEvent struct {
	event string
	id    string
	data  string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return ev
		}
		key, value, _ := strings.Cut(line, ": ")
		switch key {
		case "event":
			ev.event = value
		case "id":
			ev.id = value
		case "data":
			ev.data = value
		}
	}
}

func openSSE(t *testing.T, h *SSEHandler, query string) *bufio.Reader {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleSSE))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+query, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestSSEStreamsFilteredEvents(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cache := store.NewMemoryCache(logger, nil)
	defer cache.Close()

	r := openSSE(t, NewSSEHandler(cache, logger), "?search=eth")
	connected := readSSE(t, r)
	assert.Equal(t, "connected", connected.event)
	assert.JSONEq(t, `{"inMemory":true}`, connected.data)

	ctx := context.Background()
	require.NoError(t, cache.Publish(ctx, store.ChannelRows, rowsEvent("BTCUSDT", "ETHUSDT")))
	require.NoError(t, cache.Publish(ctx, store.ChannelRows, rowsEvent("BTCUSDT")))
	require.NoError(t, cache.Publish(ctx, store.ChannelRows, BoardEvent{Type: EventPage, Status: &board.Status{Cursor: 3}}))

	ev := readSSE(t, r)
	assert.Equal(t, EventRows, ev.event)
	assert.Equal(t, "1", ev.id)
	var rows BoardEvent
	require.NoError(t, json.Unmarshal([]byte(ev.data), &rows))
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, "ETHUSDT", rows.Rows[0].Symbol)

	ev = readSSE(t, r)
	assert.Equal(t, EventPage, ev.event)
	assert.Equal(t, "2", ev.id)
	var page BoardEvent
	require.NoError(t, json.Unmarshal([]byte(ev.data), &page))
	require.NotNil(t, page.Status)
	assert.Equal(t, 3, page.Status.Cursor)
}

func TestSSEHeartbeat(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cache := store.NewMemoryCache(logger, nil)
	defer cache.Close()

	r := openSSE(t, NewSSEHandler(cache, logger).WithHeartbeat(20*time.Millisecond), "")
	assert.Equal(t, "connected", readSSE(t, r).event)
	ev := readSSE(t, r)
	assert.Equal(t, "heartbeat", ev.event)
	assert.Equal(t, "ping", ev.id)
}
