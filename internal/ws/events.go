package ws

import (
	"encoding/json"
	"strings"

	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/render"
)

// Board event types published on store.ChannelRows.
const (
	EventRows = "rows" // rows changed by ticker updates
	EventPage = "page" // a new catalog page was appended
)

// BoardEvent is the payload the board publisher sends to browsers.
type BoardEvent struct {
	Type      string               `json:"type"`
	Rows      []render.RenderedRow `json:"rows,omitempty"`
	Status    *board.Status        `json:"status,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// Message wraps an event for a websocket client.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ClientRequest is what a websocket client may send. Only "search" is
// understood; it replaces the client's symbol filter.
type ClientRequest struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// ForQuery keeps the rows whose symbol contains query, ignoring case. It
// reports false when a rows event has nothing left to send.
func (e BoardEvent) ForQuery(query string) (BoardEvent, bool) {
	if query == "" {
		return e, e.Type != EventRows || len(e.Rows) > 0
	}
	needle := strings.ToLower(query)
	out := e
	out.Rows = nil
	for _, row := range e.Rows {
		if strings.Contains(strings.ToLower(row.Symbol), needle) {
			out.Rows = append(out.Rows, row)
		}
	}
	if e.Type == EventRows && len(out.Rows) == 0 {
		return out, false
	}
	return out, true
}

// decodeEvent parses a pubsub payload. Payloads that are not board events
// are passed through untouched so callers can still forward them.
func decodeEvent(payload string) (BoardEvent, bool) {
	var e BoardEvent
	if err := json.Unmarshal([]byte(payload), &e); err != nil || e.Type == "" {
		return BoardEvent{}, false
	}
	return e, true
}

// filterPayload returns the bytes to send to a client with the given query,
// or nil when nothing matches.
func filterPayload(payload string, query string) []byte {
	e, ok := decodeEvent(payload)
	if !ok {
		return []byte(payload)
	}
	filtered, ok := e.ForQuery(query)
	if !ok {
		return nil
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return nil
	}
	return data
}
