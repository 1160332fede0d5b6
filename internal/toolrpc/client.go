package toolrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"otto/internal/agent/ports"
	"otto/internal/logging"
)

// Client speaks the protocol over newline-delimited JSON and adapts it to
// the engine's ToolRunner port. One request is in flight at a time.
type Client struct {
	mu     sync.Mutex
	writer io.Writer
	reader *bufio.Reader
	ids    RequestIDGenerator
	logger logging.Logger
}

var _ ports.ToolRunner = (*Client)(nil)

// NewClient wraps a transport. The caller owns the transport's lifecycle.
func NewClient(rw io.ReadWriter, logger logging.Logger) *Client {
	return &Client{
		writer: rw,
		reader: bufio.NewReaderSize(rw, 64*1024),
		logger: logging.OrNop(logger),
	}
}

// call sends one request and waits for the response with a matching id.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.ids.Next()
	raw, err := json.Marshal(NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := c.writer.Write(append(raw, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		resp, err := UnmarshalResponse(line)
		if err != nil {
			return nil, err
		}
		if fmt.Sprintf("%v", resp.ID) != id {
			c.logger.Debug("toolrpc: skipping response for unknown id %v", resp.ID)
			continue
		}
		return resp, nil
	}
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) error {
	resp, err := c.call(ctx, MethodInitialize, nil)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.Error
	}
	return nil
}

// Run executes one tool call. Protocol-level errors come back inside the
// result; only transport failures return a non-nil error.
func (c *Client) Run(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	resp, err := c.call(ctx, MethodToolsCall, map[string]any{
		"name":      call.Name,
		"arguments": call.Arguments,
	})
	if err != nil {
		return nil, err
	}
	return toolResultFromResponse(call.ID, resp), nil
}

// List fetches the definitions of every tool the server offers.
func (c *Client) List(ctx context.Context) ([]ports.ToolDefinition, error) {
	resp, err := c.call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.Error
	}
	return decodeToolDefinitions(resp.Result)
}

// ListResources fetches the server's readable resources.
func (c *Client) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	resp, err := c.call(ctx, MethodResourcesList, nil)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.Error
	}
	var parsed struct {
		Resources []ResourceInfo `json:"resources"`
	}
	if err := reencode(resp.Result, &parsed); err != nil {
		return nil, err
	}
	return parsed.Resources, nil
}

// ReadResource reads one resource by uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	resp, err := c.call(ctx, MethodResourcesRead, map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", resp.Error
	}
	var parsed struct {
		Content string `json:"content"`
	}
	if err := reencode(resp.Result, &parsed); err != nil {
		return "", err
	}
	return parsed.Content, nil
}

// LocalClient adapts an in-process Server to the ToolRunner port without a
// transport. Covers the CLI case where engine and tools share one process.
type LocalClient struct {
	server *Server
	ids    RequestIDGenerator
}

var _ ports.ToolRunner = (*LocalClient)(nil)

// NewLocalClient wraps an in-process server.
func NewLocalClient(server *Server) *LocalClient {
	return &LocalClient{server: server}
}

func (c *LocalClient) Run(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	resp := c.server.Handle(ctx, NewRequest(c.ids.Next(), MethodToolsCall, map[string]any{
		"name":      call.Name,
		"arguments": call.Arguments,
	}))
	return toolResultFromResponse(call.ID, resp), nil
}

func (c *LocalClient) List(ctx context.Context) ([]ports.ToolDefinition, error) {
	resp := c.server.Handle(ctx, NewRequest(c.ids.Next(), MethodToolsList, nil))
	if resp.IsError() {
		return nil, resp.Error
	}
	return decodeToolDefinitions(resp.Result)
}

func toolResultFromResponse(callID string, resp *Response) *ports.ToolResult {
	if resp.IsError() {
		return &ports.ToolResult{CallID: callID, Error: resp.Error}
	}
	var parsed struct {
		Content string `json:"content"`
	}
	if err := reencode(resp.Result, &parsed); err != nil {
		return &ports.ToolResult{CallID: callID, Error: err}
	}
	return &ports.ToolResult{CallID: callID, Content: parsed.Content}
}

func decodeToolDefinitions(result any) ([]ports.ToolDefinition, error) {
	var parsed struct {
		Tools []ports.ToolDefinition `json:"tools"`
	}
	if err := reencode(result, &parsed); err != nil {
		return nil, err
	}
	return parsed.Tools, nil
}

// reencode converts a decoded any-typed result into a concrete shape. The
// local path hands over native structs, the wire path hands over
// map[string]any; a JSON round trip normalizes both.
func reencode(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
