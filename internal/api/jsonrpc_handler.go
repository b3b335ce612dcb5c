package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/render"
)

type rpcMethod func(ctx context.Context, params json.RawMessage) (any, *JSONRPCError)

func (h *Handler) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"board.view":     h.rpcView,
		"board.nextPage": h.rpcNextPage,
		"board.scroll":   h.rpcScroll,
		"board.nextSort": h.rpcNextSort,
		"board.status":   h.rpcStatus,
		"history.get":    h.rpcHistory,
	}
}

// HandleJSONRPC handles JSON-RPC 2.0 requests
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONRPCError(w, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}

	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	method, ok := h.rpcMethods()[req.Method]
	if !ok {
		h.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	result, rpcErr := method(r.Context(), req.Params)
	if rpcErr != nil {
		h.sendJSONRPCError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	h.writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

func decodeParams(raw json.RawMessage, dst any) *JSONRPCError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &JSONRPCError{Code: JSONRPCInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func invalidParams(msg string) *JSONRPCError {
	return &JSONRPCError{Code: JSONRPCInvalidParams, Message: "Invalid params", Data: msg}
}

func internalError(msg string, err error) *JSONRPCError {
	return &JSONRPCError{Code: JSONRPCInternalError, Message: msg, Data: err.Error()}
}

func (h *Handler) rpcView(ctx context.Context, raw json.RawMessage) (any, *JSONRPCError) {
	var p ViewParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	order, err := parseSort(p.Sort, p.Dir)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return h.view(ctx, strings.TrimSpace(p.Search), order), nil
}

func (h *Handler) rpcNextPage(ctx context.Context, _ json.RawMessage) (any, *JSONRPCError) {
	requested, err := h.requestNextPage(ctx)
	if err != nil {
		return nil, internalError("Fetch failed", err)
	}
	return NextPageDTO{Requested: requested, Status: h.board.Status()}, nil
}

func (h *Handler) rpcScroll(ctx context.Context, raw json.RawMessage) (any, *JSONRPCError) {
	var pos board.ScrollPosition
	if rpcErr := decodeParams(raw, &pos); rpcErr != nil {
		return nil, rpcErr
	}
	resp := ScrollDTO{LoadMore: h.board.ShouldLoadMore(pos)}
	if resp.LoadMore {
		requested, err := h.requestNextPage(ctx)
		if err != nil {
			return nil, internalError("Fetch failed", err)
		}
		resp.Requested = requested
	}
	resp.Status = h.board.Status()
	return resp, nil
}

func (h *Handler) rpcNextSort(_ context.Context, raw json.RawMessage) (any, *JSONRPCError) {
	var p NextSortParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Key == "" {
		return nil, invalidParams("key is required")
	}
	current, err := parseSort(p.Current, p.Dir)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return SortDTO{Sort: market.NextSort(current, p.Key)}, nil
}

func (h *Handler) rpcStatus(_ context.Context, _ json.RawMessage) (any, *JSONRPCError) {
	return h.board.Status(), nil
}

func (h *Handler) rpcHistory(ctx context.Context, raw json.RawMessage) (any, *JSONRPCError) {
	var p HistoryParams
	if rpcErr := decodeParams(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol := strings.ToUpper(p.Symbol)
	if !symbolPattern.MatchString(symbol) {
		return nil, invalidParams("symbol must be alphanumeric")
	}
	closes, err := h.history.Get(ctx, symbol)
	if err != nil {
		return nil, internalError("History unavailable", err)
	}
	spark := render.NewSparkline(closes, h.trendColor(symbol))
	return HistoryDTO{Symbol: symbol, Closes: closes, Sparkline: spark, SparklineSVG: spark.SVG()}, nil
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, id any, code int, message string, data any) {
	h.logger.Debugw("JSON-RPC error", "code", code, "message", message)
	// JSON-RPC errors are sent with HTTP 200
	h.writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
