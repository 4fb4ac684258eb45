package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureWorkspaceSeedsFreshDir(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, "workspace")

	created, err := EnsureWorkspace(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0] != "MEMORY.md" {
		t.Fatalf("created = %v", created)
	}
	data, err := os.ReadFile(filepath.Join(ws, "MEMORY.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# Memory") {
		t.Errorf("unexpected template content: %q", data)
	}
}

func TestEnsureWorkspaceKeepsExistingFiles(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "MEMORY.md"), []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := EnsureWorkspace(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("created = %v, want none", created)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "MEMORY.md"))
	if string(data) != "mine" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}
