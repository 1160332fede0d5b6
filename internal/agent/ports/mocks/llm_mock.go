package mocks

import (
	"context"

	"otto/internal/agent/ports"
)

// MockReasoningClient is a func-field mock for the reasoning service.
type MockReasoningClient struct {
	ChatFunc           func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error)
	ChatStreamFunc     func(ctx context.Context, req ports.ChatRequest) (<-chan ports.StreamEvent, error)
	ModelsFunc         func(ctx context.Context) ([]string, error)
	ValidateConfigFunc func() error

	Requests []ports.ChatRequest // every Chat request, in call order
}

func (m *MockReasoningClient) Chat(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	m.Requests = append(m.Requests, req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &ports.ChatResponse{Content: "mock response", StopReason: "stop"}, nil
}

func (m *MockReasoningClient) ChatStream(ctx context.Context, req ports.ChatRequest) (<-chan ports.StreamEvent, error) {
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, req)
	}
	ch := make(chan ports.StreamEvent, 2)
	ch <- ports.StreamEvent{Type: ports.StreamEventContent, Delta: "mock response"}
	ch <- ports.StreamEvent{Type: ports.StreamEventDone}
	close(ch)
	return ch, nil
}

func (m *MockReasoningClient) Models(ctx context.Context) ([]string, error) {
	if m.ModelsFunc != nil {
		return m.ModelsFunc(ctx)
	}
	return []string{"mock-model"}, nil
}

func (m *MockReasoningClient) ValidateConfig() error {
	if m.ValidateConfigFunc != nil {
		return m.ValidateConfigFunc()
	}
	return nil
}

// ScriptedClient returns a mock that replies with each canned response in
// order, repeating the last one once the script is exhausted.
func ScriptedClient(responses ...string) *MockReasoningClient {
	idx := 0
	return &MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			content := responses[len(responses)-1]
			if idx < len(responses) {
				content = responses[idx]
				idx++
			}
			return &ports.ChatResponse{Content: content, StopReason: "stop"}, nil
		},
	}
}
