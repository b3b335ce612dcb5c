package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tickerboard/tickerboard-backend/internal/market"
)

var (
	// ErrDecode marks a frame that could not be turned into ticker updates.
	ErrDecode = errors.New("stream decode failure")
	// ErrStream marks a transport level failure: dial, subscribe or read.
	ErrStream = errors.New("stream error")
	// ErrClosed is returned by Connect once the client has been closed.
	ErrClosed = errors.New("stream client closed")
)

// SubscribeRequest is the control message sent right after the dial.
type SubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// AllTickersStream is the aggregate 24h ticker stream for every symbol.
const AllTickersStream = "!ticker@arr"

func subscribeAllTickers() SubscribeRequest {
	return SubscribeRequest{Method: "SUBSCRIBE", Params: []string{AllTickersStream}, ID: 1}
}

// Decode turns one stream frame into ticker updates. It accepts an array of
// ticker objects, a single ticker object, or a combined stream envelope
// {"stream":..., "data":...}. Control replies and objects without a symbol
// yield no updates and no error.
func Decode(raw []byte) ([]market.TickerUpdate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		updates := make([]market.TickerUpdate, 0, len(items))
		for i, item := range items {
			u, ok, err := decodeObject(item)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %v", ErrDecode, i, err)
			}
			if ok {
				updates = append(updates, u)
			}
		}
		return updates, nil

	case '{':
		var envelope struct {
			Stream *string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if envelope.Stream != nil && len(envelope.Data) > 0 {
			return Decode(envelope.Data)
		}
		u, ok, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !ok {
			return nil, nil
		}
		return []market.TickerUpdate{u}, nil
	}

	return nil, fmt.Errorf("%w: unexpected frame starting with %q", ErrDecode, raw[0])
}

func decodeObject(raw json.RawMessage) (market.TickerUpdate, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return market.TickerUpdate{}, false, err
	}

	symRaw, ok := obj[market.FieldSymbol]
	if !ok {
		return market.TickerUpdate{}, false, nil
	}
	var symbol string
	if err := json.Unmarshal(symRaw, &symbol); err != nil {
		return market.TickerUpdate{}, false, fmt.Errorf("symbol: %w", err)
	}
	if symbol == "" {
		return market.TickerUpdate{}, false, nil
	}

	fields := make(market.Fields, len(obj))
	for k, v := range obj {
		val, err := market.ParseRaw(v)
		if err != nil {
			return market.TickerUpdate{}, false, fmt.Errorf("field %s: %w", k, err)
		}
		if val.IsAbsent() {
			continue
		}
		fields[k] = val
	}
	return market.TickerUpdate{Symbol: symbol, Fields: fields}, true, nil
}
