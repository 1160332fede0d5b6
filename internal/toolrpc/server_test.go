package toolrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"otto/internal/agent/ports"
)

type fakeTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (string, error)
}

func (t *fakeTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        t.name,
		Description: "test tool",
		Parameters:  ports.ToolParameters{Type: "object"},
	}
}

func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.fn != nil {
		return t.fn(ctx, args)
	}
	return "ok", nil
}

type fakeResources struct {
	data map[string]string
}

func (r *fakeResources) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	var out []ResourceInfo
	for uri := range r.data {
		out = append(out, ResourceInfo{URI: uri, Name: uri})
	}
	return out, nil
}

func (r *fakeResources) ReadResource(ctx context.Context, uri string) (string, error) {
	if uri == "secret://locked" {
		return "", ErrResourceAccessDenied
	}
	content, ok := r.data[uri]
	if !ok {
		return "", ErrResourceNotFound
	}
	return content, nil
}

func newTestServer(config ServerConfig) *Server {
	s := NewServer(config, nil)
	s.Register(&fakeTool{name: "echo", fn: func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		return text, nil
	}})
	return s
}

func TestHandleInitialize(t *testing.T) {
	s := newTestServer(ServerConfig{})
	resp := s.Handle(context.Background(), NewRequest("1", MethodInitialize, nil))
	if resp.IsError() {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["protocol_version"] != ProtocolVersion {
		t.Errorf("unexpected result %+v", resp.Result)
	}
}

func TestHandleToolsCall(t *testing.T) {
	s := newTestServer(ServerConfig{})
	resp := s.Handle(context.Background(), NewRequest("2", MethodToolsCall, map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"text": "hello"},
	}))
	if resp.IsError() {
		t.Fatalf("tools/call failed: %v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["content"] != "hello" {
		t.Errorf("expected echoed content, got %v", result["content"])
	}
}

func TestHandleUnknownToolReturnsToolNotFound(t *testing.T) {
	s := newTestServer(ServerConfig{})
	resp := s.Handle(context.Background(), NewRequest("3", MethodToolsCall, map[string]any{
		"name": "no_such_tool",
	}))
	if !resp.IsError() {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != CodeToolNotFound {
		t.Errorf("expected code %d, got %d", CodeToolNotFound, resp.Error.Code)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	s := newTestServer(ServerConfig{})
	resp := s.Handle(context.Background(), NewRequest("4", "tools/destroy", nil))
	if !resp.IsError() || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected method-not-found, got %+v", resp)
	}
}

func TestHandleToolTimeout(t *testing.T) {
	s := NewServer(ServerConfig{RequestTimeout: 20 * time.Millisecond}, nil)
	s.Register(&fakeTool{name: "slow", fn: func(ctx context.Context, args map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})

	resp := s.Handle(context.Background(), NewRequest("5", MethodToolsCall, map[string]any{"name": "slow"}))
	if !resp.IsError() {
		t.Fatal("expected timeout error")
	}
	if resp.Error.Code != CodeTimeout {
		t.Errorf("expected code %d, got %d: %s", CodeTimeout, resp.Error.Code, resp.Error.Message)
	}
}

func TestHandleToolExecutionError(t *testing.T) {
	s := NewServer(ServerConfig{}, nil)
	s.Register(&fakeTool{name: "broken", fn: func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("disk on fire")
	}})

	resp := s.Handle(context.Background(), NewRequest("6", MethodToolsCall, map[string]any{"name": "broken"}))
	if !resp.IsError() || resp.Error.Code != CodeToolExecutionError {
		t.Errorf("expected tool-execution-error, got %+v", resp)
	}
}

func TestHandleResources(t *testing.T) {
	s := newTestServer(ServerConfig{})
	s.SetResourceProvider(&fakeResources{data: map[string]string{"file://notes": "hello"}})

	resp := s.Handle(context.Background(), NewRequest("7", MethodResourcesRead, map[string]any{"uri": "file://notes"}))
	if resp.IsError() {
		t.Fatalf("resources/read failed: %v", resp.Error)
	}
	if resp.Result.(map[string]any)["content"] != "hello" {
		t.Errorf("unexpected content %+v", resp.Result)
	}

	resp = s.Handle(context.Background(), NewRequest("8", MethodResourcesRead, map[string]any{"uri": "file://missing"}))
	if !resp.IsError() || resp.Error.Code != CodeResourceNotFound {
		t.Errorf("expected resource-not-found, got %+v", resp)
	}

	resp = s.Handle(context.Background(), NewRequest("9", MethodResourcesRead, map[string]any{"uri": "secret://locked"}))
	if !resp.IsError() || resp.Error.Code != CodeResourceAccessDenied {
		t.Errorf("expected resource-access-denied, got %+v", resp)
	}
}

func TestHandleBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	release := make(chan struct{})

	s := NewServer(ServerConfig{MaxConcurrent: 2, RequestTimeout: time.Second}, nil)
	s.Register(&fakeTool{name: "block", fn: func(ctx context.Context, args map[string]any) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return "done", nil
	}})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := s.Handle(context.Background(), NewRequest(fmt.Sprintf("c%d", i), MethodToolsCall, map[string]any{"name": "block"}))
			if resp.IsError() {
				t.Errorf("call %d failed: %v", i, resp.Error)
			}
		}(i)
	}

	// Give the first wave time to park, then let everyone through.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("expected at most 2 concurrent executions, saw %d", got)
	}
}

func TestUnmarshalRequestRejectsBadVersion(t *testing.T) {
	_, err := UnmarshalRequest([]byte(`{"version": "1.0", "id": "x", "method": "initialize"}`))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidRequest {
		t.Errorf("expected invalid-request, got %v", err)
	}

	_, err = UnmarshalRequest([]byte(`not json`))
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeParseError {
		t.Errorf("expected parse error, got %v", err)
	}
}
