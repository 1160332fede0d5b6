package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"otto/internal/agent/ports"
	"otto/internal/toolrpc"
)

type listDir struct {
	root string
}

// NewListDir returns the list_dir tool, confined to root.
func NewListDir(root string) toolrpc.Tool {
	return &listDir{root: root}
}

func (t *listDir) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_dir",
		Description: "List the entries of a directory",
		Parameters: ports.ToolParameters{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Directory path, defaults to the workspace root"},
			},
		},
	}
}

func (t *listDir) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	resolved, err := resolveWithin(t.root, path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", toolrpc.ErrResourceNotFound
		}
		return "", err
	}

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
			continue
		}
		fmt.Fprintf(&b, "%s\n", e.Name())
	}
	if b.Len() == 0 {
		return "(empty)", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
