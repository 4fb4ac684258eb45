package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// PermanentFile holds long-lived facts, one H2 section per topic.
	PermanentFile = "MEMORY.md"
	// DailyDir holds one markdown file per UTC date.
	DailyDir = "memory"
)

// Files manages the markdown memory files under an agent workspace.
// Mutation is append-only at section granularity.
type Files struct {
	workspace string
}

// NewFiles ensures the workspace and daily directory exist.
func NewFiles(workspace string) (*Files, error) {
	if err := os.MkdirAll(filepath.Join(workspace, DailyDir), 0755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Files{workspace: workspace}, nil
}

// Workspace returns the workspace root.
func (f *Files) Workspace() string { return f.workspace }

// AppendPermanent appends an H2 section to MEMORY.md.
func (f *Files) AppendPermanent(key, content string) (string, error) {
	path := filepath.Join(f.workspace, PermanentFile)
	section := fmt.Sprintf("\n## %s\n\n%s\n", strings.TrimSpace(key), strings.TrimSpace(content))
	if err := appendFile(path, section); err != nil {
		return "", err
	}
	return PermanentFile, nil
}

// AppendDaily appends a timestamped section to today's daily note and
// returns the file's workspace-relative path.
func (f *Files) AppendDaily(key, content string, now time.Time) (string, error) {
	rel := filepath.Join(DailyDir, now.UTC().Format("2006-01-02")+".md")
	path := filepath.Join(f.workspace, rel)

	heading := strings.TrimSpace(key)
	if heading == "" {
		heading = now.UTC().Format("15:04")
	}
	section := fmt.Sprintf("\n## %s\n\n%s\n", heading, strings.TrimSpace(content))
	if err := appendFile(path, section); err != nil {
		return "", err
	}
	return rel, nil
}

func appendFile(path, text string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(text); err != nil {
		return fmt.Errorf("append memory file: %w", err)
	}
	return file.Sync()
}

// MemoryFile is one indexable markdown file.
type MemoryFile struct {
	RelPath  string
	AbsPath  string
	Modified time.Time
}

// List returns MEMORY.md plus memory/*.md, sorted by relative path.
func (f *Files) List() ([]MemoryFile, error) {
	var files []MemoryFile

	perm := filepath.Join(f.workspace, PermanentFile)
	if info, err := os.Stat(perm); err == nil && !info.IsDir() {
		files = append(files, MemoryFile{
			RelPath:  PermanentFile,
			AbsPath:  perm,
			Modified: info.ModTime(),
		})
	}

	dailyDir := filepath.Join(f.workspace, DailyDir)
	entries, err := os.ReadDir(dailyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, fmt.Errorf("read memory dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, MemoryFile{
			RelPath:  filepath.Join(DailyDir, e.Name()),
			AbsPath:  filepath.Join(dailyDir, e.Name()),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}
