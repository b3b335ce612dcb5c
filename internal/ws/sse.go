package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tickerboard/tickerboard-backend/internal/store"
	"go.uber.org/zap"
)

const DefaultHeartbeat = 30 * time.Second

type SSEHandler struct {
	cache     *store.Cache
	logger    *zap.SugaredLogger
	heartbeat time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{
		cache:     cache,
		logger:    logger,
		heartbeat: DefaultHeartbeat,
	}
}

// WithHeartbeat sets the keep-alive interval.
func (h *SSEHandler) WithHeartbeat(d time.Duration) *SSEHandler {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

// HandleSSE streams board events until the client goes away. The "search"
// query parameter filters rows by symbol.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	query := r.URL.Query().Get("search")
	h.logger.Debugw("SSE connection established", "query", query)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.cache.Subscribe(ctx, store.ChannelRows)
	defer sub.Close()

	h.sendEvent(w, flusher, "connected", "connected", map[string]any{
		"inMemory": h.cache.IsInMemoryMode(),
	})
	h.stream(ctx, w, flusher, sub, query)
}

func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub store.Subscription, query string) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	var seq int64
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", "ping", map[string]any{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			data := filterPayload(msg.Payload, query)
			if data == nil {
				continue
			}
			seq++
			h.sendEvent(w, flusher, eventType(msg.Payload), fmt.Sprint(seq), json.RawMessage(data))
		}
	}
}

func eventType(payload string) string {
	if e, ok := decodeEvent(payload); ok {
		return e.Type
	}
	return "update"
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, id string, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", dataBytes)
	flusher.Flush()
}
