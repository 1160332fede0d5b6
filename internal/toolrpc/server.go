package toolrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"otto/internal/agent/ports"
	"otto/internal/logging"
)

// Resource access failures tools and providers signal with these sentinels
// map onto the protocol's dedicated error codes.
var (
	ErrResourceNotFound     = errors.New("resource not found")
	ErrResourceAccessDenied = errors.New("resource access denied")
)

// Tool is a server-side tool implementation.
type Tool interface {
	Definition() ports.ToolDefinition
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ResourceInfo describes one readable resource.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResourceProvider backs resources/list and resources/read.
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	ReadResource(ctx context.Context, uri string) (string, error)
}

// ServerConfig bounds the server.
type ServerConfig struct {
	// MaxConcurrent caps in-flight requests; overflow waits FIFO.
	MaxConcurrent int64
	// RequestTimeout aborts a single request and frees its slot.
	RequestTimeout time.Duration
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{MaxConcurrent: 4, RequestTimeout: 30 * time.Second}
}

// Server dispatches protocol requests to registered tools and an optional
// resource provider.
type Server struct {
	config    ServerConfig
	logger    logging.Logger
	sem       *semaphore.Weighted
	mu        sync.RWMutex
	tools     map[string]Tool
	resources ResourceProvider
}

// NewServer builds a server with no tools registered.
func NewServer(config ServerConfig, logger logging.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultServerConfig().MaxConcurrent
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}
	return &Server{
		config: config,
		logger: logging.OrNop(logger),
		sem:    semaphore.NewWeighted(config.MaxConcurrent),
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool, replacing any previous tool of the same name.
func (s *Server) Register(tool Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Definition().Name] = tool
}

// SetResourceProvider installs the backend for the resources methods.
func (s *Server) SetResourceProvider(rp ResourceProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = rp
}

// Handle processes one request. It blocks FIFO behind the concurrency bound
// and enforces the per-request timeout once admitted.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return NewErrorResponse(req.ID, CodeInternalError, "request cancelled while queued", err.Error())
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req)
	case MethodToolsList:
		return s.handleToolsList(req)
	case MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	case MethodResourcesList:
		return s.handleResourcesList(ctx, req)
	case MethodResourcesRead:
		return s.handleResourcesRead(ctx, req)
	default:
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return NewResponse(req.ID, map[string]any{
		"protocol_version": ProtocolVersion,
		"server":           "otto",
		"capabilities": map[string]any{
			"tools":     true,
			"resources": true,
		},
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]ports.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, t.Definition())
	}
	return NewResponse(req.ID, map[string]any{"tools": defs})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	name, _ := req.Params["name"].(string)
	if name == "" {
		return NewErrorResponse(req.ID, CodeInvalidParams, "missing tool name", nil)
	}
	args, _ := req.Params["arguments"].(map[string]any)

	s.mu.RLock()
	tool, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return NewErrorResponse(req.ID, CodeToolNotFound, fmt.Sprintf("tool not found: %s", name), nil)
	}

	content, err := tool.Execute(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewErrorResponse(req.ID, CodeTimeout, fmt.Sprintf("tool %s timed out after %s", name, s.config.RequestTimeout), nil)
		}
		return NewErrorResponse(req.ID, CodeToolExecutionError, fmt.Sprintf("tool %s failed: %v", name, err), nil)
	}
	return NewResponse(req.ID, map[string]any{"content": content})
}

func (s *Server) handleResourcesList(ctx context.Context, req *Request) *Response {
	s.mu.RLock()
	rp := s.resources
	s.mu.RUnlock()
	if rp == nil {
		return NewResponse(req.ID, map[string]any{"resources": []ResourceInfo{}})
	}

	resources, err := rp.ListResources(ctx)
	if err != nil {
		return NewErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("list resources: %v", err), nil)
	}
	return NewResponse(req.ID, map[string]any{"resources": resources})
}

func (s *Server) handleResourcesRead(ctx context.Context, req *Request) *Response {
	uri, _ := req.Params["uri"].(string)
	if uri == "" {
		return NewErrorResponse(req.ID, CodeInvalidParams, "missing resource uri", nil)
	}

	s.mu.RLock()
	rp := s.resources
	s.mu.RUnlock()
	if rp == nil {
		return NewErrorResponse(req.ID, CodeResourceNotFound, fmt.Sprintf("resource not found: %s", uri), nil)
	}

	content, err := rp.ReadResource(ctx, uri)
	switch {
	case err == nil:
		return NewResponse(req.ID, map[string]any{"uri": uri, "content": content})
	case errors.Is(err, ErrResourceNotFound):
		return NewErrorResponse(req.ID, CodeResourceNotFound, fmt.Sprintf("resource not found: %s", uri), nil)
	case errors.Is(err, ErrResourceAccessDenied):
		return NewErrorResponse(req.ID, CodeResourceAccessDenied, fmt.Sprintf("resource access denied: %s", uri), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorResponse(req.ID, CodeTimeout, fmt.Sprintf("resource read timed out: %s", uri), nil)
	default:
		return NewErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("read resource: %v", err), nil)
	}
}

// Serve reads newline-delimited requests from rw until EOF and writes one
// response line per request. Requests are handled concurrently up to the
// server's bound; response ordering follows completion, not arrival.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	write := func(resp *Response) {
		raw, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("toolrpc: marshal response: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := rw.Write(append(raw, '\n')); err != nil {
			s.logger.Error("toolrpc: write response: %v", err)
		}
	}

	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		req, err := UnmarshalRequest(line)
		if err != nil {
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				write(NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data))
			} else {
				write(NewErrorResponse(nil, CodeParseError, err.Error(), nil))
			}
			continue
		}

		wg.Add(1)
		go func(req *Request) {
			defer wg.Done()
			write(s.Handle(ctx, req))
		}(req)
	}
	wg.Wait()
	return scanner.Err()
}
