package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendPermanentAddsSection(t *testing.T) {
	files, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rel, err := files.AppendPermanent("Tea preference", "Prefers green tea.")
	if err != nil {
		t.Fatal(err)
	}
	if rel != PermanentFile {
		t.Errorf("rel = %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(files.Workspace(), PermanentFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "## Tea preference") || !strings.Contains(string(data), "Prefers green tea.") {
		t.Errorf("content = %q", data)
	}

	// A second append keeps the first section.
	if _, err := files.AppendPermanent("Coffee", "Switched to coffee."); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(filepath.Join(files.Workspace(), PermanentFile))
	if !strings.Contains(string(data), "## Tea preference") || !strings.Contains(string(data), "## Coffee") {
		t.Errorf("append rewrote the file: %q", data)
	}
}

func TestAppendDailyUsesUTCDate(t *testing.T) {
	files, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 24, 23, 30, 0, 0, time.FixedZone("late", 2*3600))
	rel, err := files.AppendDaily("", "Debugged the limiter.", now)
	if err != nil {
		t.Fatal(err)
	}
	if rel != filepath.Join(DailyDir, "2026-08-24.md") {
		t.Errorf("rel = %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(files.Workspace(), rel))
	if err != nil {
		t.Fatal(err)
	}
	// Empty key falls back to the UTC clock heading.
	if !strings.Contains(string(data), "## 21:30") {
		t.Errorf("content = %q", data)
	}
}

func TestListReturnsPermanentAndDaily(t *testing.T) {
	files, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := files.AppendPermanent("A", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := files.AppendDaily("B", "b", time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	// Non-markdown files in the daily dir are skipped.
	if err := os.WriteFile(filepath.Join(files.Workspace(), DailyDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := files.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].RelPath != PermanentFile {
		t.Errorf("first = %q", list[0].RelPath)
	}
	if list[1].RelPath != filepath.Join(DailyDir, "2026-08-24.md") {
		t.Errorf("second = %q", list[1].RelPath)
	}
}
