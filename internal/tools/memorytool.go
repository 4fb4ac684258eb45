package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dinh2350/lunar-sub002/internal/memory"
)

// MemorySearchTool runs hybrid retrieval over the indexed memory files.
type MemorySearchTool struct {
	index    *memory.Index
	embedder memory.Embedder
	opts     memory.SearchOptions
	logger   *slog.Logger
}

var _ Tool = (*MemorySearchTool)(nil)

func NewMemorySearchTool(index *memory.Index, embedder memory.Embedder, opts memory.SearchOptions, logger *slog.Logger) *MemorySearchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemorySearchTool{index: index, embedder: embedder, opts: opts, logger: logger}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for relevant notes and facts"
}
func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}

	// Embedding failure degrades to lexical-only search.
	var embedding []float32
	if t.embedder != nil {
		vec, err := t.embedder.Embed(ctx, query)
		if err != nil {
			t.logger.Warn("memory.embed_failed", "error", err)
		} else {
			embedding = vec
		}
	}

	results, err := t.index.HybridSearch(ctx, query, embedding, t.opts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}
	if len(results) == 0 {
		return SilentResult("No matching memories found.")
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (score %.3f)\n%s\n\n", i+1, r.FilePath, r.Score, strings.TrimSpace(r.Content))
	}
	return SilentResult(strings.TrimSpace(b.String()))
}

// MemoryWriteTool appends a note to the permanent or daily memory file
// and reindexes the touched file so the fact is searchable immediately.
type MemoryWriteTool struct {
	files   *memory.Files
	indexer *memory.Indexer
	logger  *slog.Logger
}

var _ Tool = (*MemoryWriteTool)(nil)

func NewMemoryWriteTool(files *memory.Files, indexer *memory.Indexer, logger *slog.Logger) *MemoryWriteTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryWriteTool{files: files, indexer: indexer, logger: logger}
}

func (t *MemoryWriteTool) Name() string { return "memory_write" }
func (t *MemoryWriteTool) Description() string {
	return "Save a fact or note to long-term memory. Use scope=permanent for durable facts, scope=daily for day-to-day notes."
}
func (t *MemoryWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The note to remember",
			},
			"scope": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"permanent", "daily"},
				"description": "Where to store the note, defaults to daily",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Optional section heading for the note",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MemoryWriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}
	scope, _ := args["scope"].(string)
	key, _ := args["key"].(string)

	var relPath string
	var err error
	switch scope {
	case "permanent":
		relPath, err = t.files.AppendPermanent(key, content)
	case "", "daily":
		relPath, err = t.files.AppendDaily(key, content, time.Now())
	default:
		return ErrorResult(fmt.Sprintf("unknown scope %q, use permanent or daily", scope))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to save memory: %v", err))
	}

	if t.indexer != nil {
		if err := t.indexer.IndexFile(ctx, relPath); err != nil {
			t.logger.Warn("memory.reindex_failed", "file", relPath, "error", err)
		}
	}
	return SilentResult(fmt.Sprintf("Saved to %s.", relPath))
}
