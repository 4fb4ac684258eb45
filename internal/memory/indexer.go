package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
)

// Indexer reconciles memory files with the index. It tracks the last
// indexed modification time per file and re-chunks only stale files.
type Indexer struct {
	files    *Files
	chunker  *Chunker
	embedder Embedder
	index    *Index
	logger   *slog.Logger

	mu          sync.Mutex
	lastIndexed map[string]time.Time
}

// NewIndexer wires the indexing pipeline.
func NewIndexer(files *Files, chunker *Chunker, embedder Embedder, index *Index, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		files:       files,
		chunker:     chunker,
		embedder:    embedder,
		index:       index,
		logger:      logger,
		lastIndexed: make(map[string]time.Time),
	}
}

// IndexAll clears the tracking map and re-indexes every memory file.
func (ix *Indexer) IndexAll(ctx context.Context) error {
	ix.mu.Lock()
	ix.lastIndexed = make(map[string]time.Time)
	ix.mu.Unlock()
	return ix.IndexChanged(ctx)
}

// IndexChanged walks the memory files and re-indexes the stale ones.
// Per-file failures are logged and skipped; the walk continues so one
// bad file cannot poison retrieval for the rest.
func (ix *Indexer) IndexChanged(ctx context.Context) error {
	files, err := ix.files.List()
	if err != nil {
		return fmt.Errorf("list memory files: %w", err)
	}

	for _, mf := range files {
		ix.mu.Lock()
		last, seen := ix.lastIndexed[mf.RelPath]
		ix.mu.Unlock()
		if seen && !mf.Modified.After(last) {
			continue
		}

		if err := ix.indexFile(ctx, mf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Warn("memory.index_failed", "file", mf.RelPath, "error", err)
			continue
		}
		ix.mu.Lock()
		ix.lastIndexed[mf.RelPath] = mf.Modified
		ix.mu.Unlock()
	}
	return nil
}

// IndexFile re-indexes one file by workspace-relative path immediately.
// Used after memory_write so new content is searchable on the next
// loop iteration.
func (ix *Indexer) IndexFile(ctx context.Context, relPath string) error {
	abs := filepath.Join(ix.files.Workspace(), relPath)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat memory file: %w", err)
	}
	mf := MemoryFile{RelPath: relPath, AbsPath: abs, Modified: info.ModTime()}
	if err := ix.indexFile(ctx, mf); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.lastIndexed[relPath] = mf.Modified
	ix.mu.Unlock()
	return nil
}

func (ix *Indexer) indexFile(ctx context.Context, mf MemoryFile) error {
	data, err := os.ReadFile(mf.AbsPath)
	if err != nil {
		return fmt.Errorf("read memory file: %w", err)
	}

	chunks := ix.chunker.Split(mf.RelPath, string(data))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", mf.RelPath, err)
	}

	// The file owns its chunks: stale rows go before new ones land.
	if err := ix.index.DeleteByFilePath(ctx, mf.RelPath); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := ix.index.InsertChunks(ctx, chunks, embeddings); err != nil {
		return err
	}

	ix.logger.Debug("memory.indexed", "file", mf.RelPath, "chunks", len(chunks))
	return nil
}

// Watch reindexes on fsnotify events over the workspace memory files
// until ctx is cancelled. Events are debounced by a short settle delay
// so editors that write in bursts trigger one pass.
func (ix *Indexer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	ws := ix.files.Workspace()
	if err := watcher.Add(ws); err != nil {
		return fmt.Errorf("watch workspace: %w", err)
	}
	if err := watcher.Add(filepath.Join(ws, DailyDir)); err != nil {
		return fmt.Errorf("watch memory dir: %w", err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".md" {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn("memory.watch_error", "error", err)
		case <-fire:
			if err := ix.IndexChanged(ctx); err != nil && ctx.Err() == nil {
				ix.logger.Warn("memory.watch_reindex_failed", "error", err)
			}
		}
	}
}

// Schedule runs IndexChanged on a cron expression until ctx is cancelled.
// The expression is validated up front; ticks are checked once a minute.
func (ix *Indexer) Schedule(ctx context.Context, cronExpr string) error {
	gron := gronx.New()
	if !gron.IsValid(cronExpr) {
		return fmt.Errorf("invalid reindex cron %q", cronExpr)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := gron.IsDue(cronExpr, time.Now())
			if err != nil || !due {
				continue
			}
			if err := ix.IndexChanged(ctx); err != nil && ctx.Err() == nil {
				ix.logger.Warn("memory.scheduled_reindex_failed", "error", err)
			}
		}
	}
}
