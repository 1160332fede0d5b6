package ports

import "context"

// ToolRunner executes concrete actions (file, network, shell) on the
// engine's behalf. The transport behind it is an RPC-style protocol; the
// engine only depends on this port.
type ToolRunner interface {
	// Run executes one tool call. A non-nil error means the transport
	// failed; a tool-level failure comes back inside the result.
	Run(ctx context.Context, call ToolCall) (*ToolResult, error)

	// List returns the definitions of every available tool.
	List(ctx context.Context) ([]ToolDefinition, error)
}

// ToolCall is a request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the execution result.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Error    error          `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition is the schema advertised to the reasoning service.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters describes a tool's input schema.
type ToolParameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one parameter in a tool schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}
