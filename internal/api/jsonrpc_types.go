package api

import "encoding/json"

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSON-RPC 2.0 response structure
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSON-RPC 2.0 error structure
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// board.view and board.nextSort parameters
type ViewParams struct {
	Search string `json:"search"`
	Sort   string `json:"sort"`
	Dir    string `json:"dir"`
}

type NextSortParams struct {
	Current string `json:"current"`
	Dir     string `json:"dir"`
	Key     string `json:"key"`
}

// history.get parameters
type HistoryParams struct {
	Symbol string `json:"symbol"`
}

// JSON-RPC error codes (following standard)
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)
