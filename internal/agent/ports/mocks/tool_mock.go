package mocks

import (
	"context"
	"fmt"
	"sync"

	"otto/internal/agent/ports"
)

// MockToolRunner is a func-field mock for the tool executor.
type MockToolRunner struct {
	RunFunc  func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error)
	ListFunc func(ctx context.Context) ([]ports.ToolDefinition, error)

	mu    sync.Mutex
	Calls []ports.ToolCall
}

func (m *MockToolRunner) Run(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, call)
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("mock result for %s", call.Name),
	}, nil
}

func (m *MockToolRunner) List(ctx context.Context) ([]ports.ToolDefinition, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []ports.ToolDefinition{
		{Name: "echo", Description: "echoes its input", Parameters: ports.ToolParameters{Type: "object"}},
	}, nil
}

// CallCount returns how many tool calls have been recorded.
func (m *MockToolRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
