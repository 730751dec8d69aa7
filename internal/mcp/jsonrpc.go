package mcp

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// JSON-RPC 2.0, newline-delimited over stdio.

const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type idGenerator struct {
	counter atomic.Int64
}

func (g *idGenerator) next() string {
	return fmt.Sprintf("%d", g.counter.Add(1))
}

func newRequest(id any, method string, params map[string]any) *request {
	return &request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

func newNotification(method string, params map[string]any) *request {
	return &request{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}

func decodeResponse(data []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "malformed jsonrpc response", Data: err.Error()}
	}
	if resp.JSONRPC != jsonrpcVersion {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("unexpected jsonrpc version %q", resp.JSONRPC)}
	}
	return &resp, nil
}
