package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedIndex(t *testing.T, idx *Index) {
	t.Helper()
	chunks := []Chunk{
		{ID: "MEMORY.md:0", Content: "the user prefers green tea in the morning", FilePath: "MEMORY.md", Index: 0, TokenCount: 8},
		{ID: "MEMORY.md:1", Content: "project lunar ships a telegram connector", FilePath: "MEMORY.md", Index: 1, TokenCount: 6},
		{ID: "memory/2026-08-24.md:0", Content: "debugged the flood limiter all afternoon", FilePath: "memory/2026-08-24.md", Index: 0, TokenCount: 6},
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	if err := idx.InsertChunks(context.Background(), chunks, embeddings); err != nil {
		t.Fatal(err)
	}
}

func TestSearchLexicalFindsMatch(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	results, err := idx.SearchLexical(context.Background(), "green tea", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ID != "MEMORY.md:0" {
		t.Fatalf("results = %+v", results)
	}
}

func TestSearchLexicalQuotesInput(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	// FTS5 operators in user input must not be interpreted.
	if _, err := idx.SearchLexical(context.Background(), `tea OR "x`, 5); err != nil {
		t.Fatalf("quoted query failed: %v", err)
	}
}

func TestSearchVectorRanksByCosine(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	results, err := idx.SearchVector(context.Background(), []float32{0, 1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ID != "MEMORY.md:1" {
		t.Errorf("top = %s", results[0].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v", results)
	}
}

func TestSearchVectorRejectsWrongDimension(t *testing.T) {
	idx := newTestIndex(t)
	if _, err := idx.SearchVector(context.Background(), []float32{1, 0}, 5); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestHybridSearchCombinesSets(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	// Lexical favors the tea chunk, the vector favors the telegram chunk.
	results, err := idx.HybridSearch(context.Background(), "green tea",
		[]float32{0, 1, 0, 0}, SearchOptions{Limit: 2, VectorWeight: 0.5, BM25Weight: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.ID] = true
	}
	if !seen["MEMORY.md:0"] || !seen["MEMORY.md:1"] {
		t.Errorf("results = %+v", results)
	}
}

func TestHybridSearchWithoutEmbedding(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	results, err := idx.HybridSearch(context.Background(), "flood limiter", nil, SearchOptions{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ID != "memory/2026-08-24.md:0" {
		t.Fatalf("results = %+v", results)
	}
}

func TestInsertReplacesExistingChunk(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	updated := []Chunk{{ID: "MEMORY.md:0", Content: "the user switched to coffee", FilePath: "MEMORY.md", Index: 0, TokenCount: 5}}
	if err := idx.InsertChunks(context.Background(), updated, [][]float32{{0, 0, 0, 1}}); err != nil {
		t.Fatal(err)
	}

	if res, _ := idx.SearchLexical(context.Background(), "green tea", 5); len(res) != 0 {
		t.Errorf("stale content still indexed: %+v", res)
	}
	res, err := idx.SearchLexical(context.Background(), "coffee", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("results = %+v", res)
	}
}

func TestDeleteByFilePath(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx)

	if err := idx.DeleteByFilePath(context.Background(), "MEMORY.md"); err != nil {
		t.Fatal(err)
	}
	chunks, fts, vectors, err := idx.CountByFilePath(context.Background(), "MEMORY.md")
	if err != nil {
		t.Fatal(err)
	}
	if chunks != 0 || fts != 0 || vectors != 0 {
		t.Errorf("counts = %d/%d/%d, want all zero", chunks, fts, vectors)
	}
	if c, _, _, _ := countAll(idx); c != 1 {
		t.Errorf("other file's chunks = %d, want 1", c)
	}
}

func countAll(idx *Index) (int, int, int, error) {
	c, f, v, err := idx.CountByFilePath(context.Background(), "memory/2026-08-24.md")
	return c, f, v, err
}
