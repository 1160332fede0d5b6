package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"otto/internal/toolrpc"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("remember the milk"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFile(dir)
	content, err := tool.Execute(context.Background(), map[string]any{"path": "notes.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if content != "remember the milk" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestReadFileMissing(t *testing.T) {
	tool := NewReadFile(t.TempDir())
	_, err := tool.Execute(context.Background(), map[string]any{"path": "nope.txt"})
	if !errors.Is(err, toolrpc.ErrResourceNotFound) {
		t.Errorf("expected resource-not-found, got %v", err)
	}
}

func TestReadFileRejectsEscape(t *testing.T) {
	tool := NewReadFile(t.TempDir())
	_, err := tool.Execute(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if !errors.Is(err, toolrpc.ErrResourceAccessDenied) {
		t.Errorf("expected access denied, got %v", err)
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tool := NewListDir(dir)
	out, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("unexpected listing %q", out)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("OTTO_TEST_VAR", "hello")

	tool := NewEnv()
	out, err := tool.Execute(context.Background(), map[string]any{"name": "OTTO_TEST_VAR"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hello" {
		t.Errorf("unexpected value %q", out)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"name": "OTTO_TEST_UNSET"}); !errors.Is(err, toolrpc.ErrResourceNotFound) {
		t.Errorf("expected resource-not-found for unset variable, got %v", err)
	}
}

func TestFileResources(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc.md"), []byte("# doc"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewFileResources(dir)
	resources, err := r.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(resources) != 1 || resources[0].URI != "file://doc.md" {
		t.Errorf("unexpected resources %+v", resources)
	}

	content, err := r.ReadResource(context.Background(), "file://doc.md")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if content != "# doc" {
		t.Errorf("unexpected content %q", content)
	}

	if _, err := r.ReadResource(context.Background(), "file://missing.md"); !errors.Is(err, toolrpc.ErrResourceNotFound) {
		t.Errorf("expected resource-not-found, got %v", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	server := toolrpc.NewServer(toolrpc.ServerConfig{}, nil)
	RegisterBuiltins(server, t.TempDir())

	client := toolrpc.NewLocalClient(server)
	defs, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
	}
	for _, want := range []string{"read_file", "list_dir", "env"} {
		if !names[want] {
			t.Errorf("missing built-in tool %s", want)
		}
	}
}
