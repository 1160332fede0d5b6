package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"otto/internal/toolrpc"
)

// FileResources exposes the files under a root directory as resources with
// file:// uris.
type FileResources struct {
	root string
}

var _ toolrpc.ResourceProvider = (*FileResources)(nil)

// NewFileResources builds a provider rooted at dir.
func NewFileResources(dir string) *FileResources {
	return &FileResources{root: dir}
}

func (r *FileResources) ListResources(ctx context.Context) ([]toolrpc.ResourceInfo, error) {
	var out []toolrpc.ResourceInfo
	err := filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		out = append(out, toolrpc.ResourceInfo{
			URI:  "file://" + filepath.ToSlash(rel),
			Name: d.Name(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FileResources) ReadResource(ctx context.Context, uri string) (string, error) {
	rel, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return "", toolrpc.ErrResourceNotFound
	}
	resolved, err := resolveWithin(r.root, rel)
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
	return string(content), nil
}
