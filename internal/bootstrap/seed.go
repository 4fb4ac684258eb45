// Package bootstrap seeds a fresh agent workspace with starter memory
// files. Existing files are never overwritten.
package bootstrap

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// templateFiles maps workspace-relative destinations to embedded
// template names.
var templateFiles = map[string]string{
	"MEMORY.md": "MEMORY.md",
}

// EnsureWorkspace creates the workspace directory and seeds the starter
// files that don't exist yet. Returns the list of files created.
func EnsureWorkspace(workspace string) ([]string, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	var created []string
	for dst, tmpl := range templateFiles {
		ok, err := seed(workspace, dst, tmpl)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, dst)
		}
	}
	return created, nil
}

// seed writes one template if the destination doesn't exist. O_EXCL
// keeps concurrent starts from clobbering each other.
func seed(workspace, dst, tmpl string) (bool, error) {
	path := filepath.Join(workspace, dst)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", tmpl))
	if err != nil {
		os.Remove(path)
		return false, fmt.Errorf("read template %s: %w", tmpl, err)
	}
	if _, err := f.Write(content); err != nil {
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	return true, nil
}
