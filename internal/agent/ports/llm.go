package ports

import (
	"context"
	"fmt"
)

// ReasoningClient is the single capability interface over interchangeable
// reasoning backends. Concrete providers are adapters implementing it,
// selected by configuration.
type ReasoningClient interface {
	// Chat sends messages and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream yields content/tool-call/error/done events as they arrive.
	// The returned channel is closed after the done or error event.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)

	// Models lists the model identifiers the backend can serve.
	Models(ctx context.Context) ([]string, error)

	// ValidateConfig checks that the adapter is usable (credentials,
	// endpoint, model name) without issuing a completion.
	ValidateConfig() error
}

// ChatRequest contains all parameters for one completion.
type ChatRequest struct {
	Messages []Message      `json:"messages"`
	Options  ChatOptions    `json:"options"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChatOptions are the per-call generation parameters.
type ChatOptions struct {
	Temperature   float64  `json:"temperature,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	StopSequences []string `json:"stop,omitempty"`
}

// ValidateOptions rejects generation parameters outside the contract the
// reasoning service accepts: temperature in [0,2], maxTokens >= 1.
func ValidateOptions(opts ChatOptions) error {
	if opts.Temperature < 0 || opts.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", opts.Temperature)
	}
	if opts.MaxTokens < 1 {
		return fmt.Errorf("maxTokens must be >= 1, got %d", opts.MaxTokens)
	}
	return nil
}

// Message represents one conversation message.
type Message struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChatResponse is the reasoning service's reply.
type ChatResponse struct {
	Content    string         `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      TokenUsage     `json:"usage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEventType discriminates streaming events.
type StreamEventType string

const (
	StreamEventContent  StreamEventType = "content"
	StreamEventToolCall StreamEventType = "tool_call"
	StreamEventError    StreamEventType = "error"
	StreamEventDone     StreamEventType = "done"
)

// StreamEvent is one chunk of a streaming completion.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Err      error           `json:"-"`
}
