// Package toolrpc implements the RPC protocol between the engine and a tool
// executor: newline-delimited JSON requests and responses with a bounded,
// FIFO-queued server.
package toolrpc

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// ProtocolVersion is carried in every request and response.
const ProtocolVersion = "2.0"

// Error codes.
const (
	CodeParseError           = -32700 // Invalid JSON was received
	CodeInvalidRequest       = -32600 // Malformed request object
	CodeMethodNotFound       = -32601 // Unknown method
	CodeInvalidParams        = -32602 // Invalid method parameters
	CodeInternalError        = -32603 // Server-side failure
	CodeToolNotFound         = -32001 // tools/call named an unregistered tool
	CodeToolExecutionError   = -32002 // The tool ran and failed
	CodeResourceNotFound     = -32003 // resources/read target does not exist
	CodeResourceAccessDenied = -32004 // resources/read target is off-limits
	CodeTimeout              = -32005 // Per-request deadline exceeded
)

// Supported methods.
const (
	MethodInitialize    = "initialize"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// Request is one protocol request.
type Request struct {
	Version string         `json:"version"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is one protocol response: Result or Error, never both.
type Response struct {
	Version string    `json:"version"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the error object in a failed response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsError reports whether the response carries an error.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// RequestIDGenerator hands out unique request ids.
type RequestIDGenerator struct {
	counter atomic.Int64
}

func (g *RequestIDGenerator) Next() string {
	return fmt.Sprintf("%d", g.counter.Add(1))
}

// NewRequest builds a protocol request.
func NewRequest(id any, method string, params map[string]any) *Request {
	return &Request{Version: ProtocolVersion, ID: id, Method: method, Params: params}
}

// NewResponse builds a successful response.
func NewResponse(id any, result any) *Response {
	return &Response{Version: ProtocolVersion, ID: id, Result: result}
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id any, code int, message string, data any) *Response {
	return &Response{
		Version: ProtocolVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// UnmarshalRequest parses and validates a protocol request.
func UnmarshalRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "failed to parse request", Data: err.Error()}
	}
	if req.Version != ProtocolVersion {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid protocol version %q", req.Version)}
	}
	if req.Method == "" {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "missing method"}
	}
	return &req, nil
}

// UnmarshalResponse parses and validates a protocol response.
func UnmarshalResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "failed to parse response", Data: err.Error()}
	}
	if resp.Version != ProtocolVersion {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid protocol version %q", resp.Version)}
	}
	return &resp, nil
}
