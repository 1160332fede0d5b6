// Package tools holds the built-in tool implementations served over the
// tool RPC protocol.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"otto/internal/agent/ports"
	"otto/internal/toolrpc"
)

// maxReadSize caps how much of a file read_file returns.
const maxReadSize = 256 * 1024

type readFile struct {
	root string
}

// NewReadFile returns the read_file tool. Paths are confined to root; ""
// means the current working directory.
func NewReadFile(root string) toolrpc.Tool {
	return &readFile{root: root}
}

func (t *readFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Parameters: ports.ToolParameters{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "File path"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *readFile) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("missing 'path'")
	}

	resolved, err := resolveWithin(t.root, path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", toolrpc.ErrResourceNotFound
		}
		return "", err
	}
	if len(content) > maxReadSize {
		return string(content[:maxReadSize]) + "\n... (truncated)", nil
	}
	return string(content), nil
}

// resolveWithin joins path under root and rejects escapes.
func resolveWithin(root, path string) (string, error) {
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", toolrpc.ErrResourceAccessDenied
	}
	return resolved, nil
}
