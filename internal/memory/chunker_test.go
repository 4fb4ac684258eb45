package memory

import (
	"strings"
	"testing"
)

func TestSplitSectionsAtHeadings(t *testing.T) {
	doc := "# Title\n\nintro text\n\n## Alpha\n\nalpha body\n\n## Beta\n\nbeta body\n"
	chunks := NewChunker(400, 80).Split("MEMORY.md", doc)

	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[0].ID != "MEMORY.md:0" || chunks[2].ID != "MEMORY.md:2" {
		t.Errorf("ids = %s .. %s", chunks[0].ID, chunks[2].ID)
	}
	if !strings.Contains(chunks[1].Content, "alpha body") {
		t.Errorf("chunk 1 = %q", chunks[1].Content)
	}
	for _, c := range chunks {
		if c.TokenCount != len(strings.Fields(c.Content)) {
			t.Errorf("chunk %s token count %d mismatch", c.ID, c.TokenCount)
		}
	}
}

func TestSplitIgnoresHeadingsInCodeFences(t *testing.T) {
	doc := "## Real\n\nbody\n\n```\n## not a heading\n```\n"
	chunks := NewChunker(400, 80).Split("a.md", doc)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
}

func TestSplitLongSectionOverlaps(t *testing.T) {
	words := make([]string, 250)
	for i := range words {
		words[i] = "w" + strings.Repeat("x", i%5)
	}
	doc := "## Long\n\n" + strings.Join(words, " ")
	chunks := NewChunker(100, 20).Split("a.md", doc)

	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}
	for _, c := range chunks {
		if c.TokenCount > 100 {
			t.Errorf("chunk %s has %d words, budget 100", c.ID, c.TokenCount)
		}
	}

	// Every word survives into at least one chunk.
	joined := strings.Join(words, " ")
	all := ""
	for _, c := range chunks {
		all += " " + c.Content
	}
	for _, w := range strings.Fields(joined) {
		if !strings.Contains(all, w) {
			t.Fatalf("word %q lost", w)
		}
	}

	// Consecutive chunks share the overlap window.
	firstWords := strings.Fields(chunks[1].Content)
	if !strings.Contains(chunks[0].Content, firstWords[0]) {
		t.Errorf("no overlap between chunk 0 and 1")
	}
}

func TestSplitEmptyDocument(t *testing.T) {
	if chunks := NewChunker(0, 0).Split("a.md", "   \n\n  "); len(chunks) != 0 {
		t.Errorf("chunks = %d, want 0", len(chunks))
	}
}
