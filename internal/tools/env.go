package tools

import (
	"context"
	"fmt"
	"os"

	"otto/internal/agent/ports"
	"otto/internal/toolrpc"
)

type env struct{}

// NewEnv returns the env tool. Single-variable lookup only; dumping the
// whole environment to the model is off the table.
func NewEnv() toolrpc.Tool {
	return env{}
}

func (env) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "env",
		Description: "Read one environment variable",
		Parameters: ports.ToolParameters{
			Type: "object",
			Properties: map[string]ports.Property{
				"name": {Type: "string", Description: "Variable name"},
			},
			Required: []string{"name"},
		},
	}
}

func (env) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("missing 'name'")
	}
	value, found := os.LookupEnv(name)
	if !found {
		return "", toolrpc.ErrResourceNotFound
	}
	return value, nil
}

// RegisterBuiltins installs the built-in tools on a server, all confined to
// root.
func RegisterBuiltins(server *toolrpc.Server, root string) {
	server.Register(NewReadFile(root))
	server.Register(NewListDir(root))
	server.Register(NewEnv())
}
