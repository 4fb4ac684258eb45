package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	// DefaultVectorWeight and DefaultBM25Weight combine normalized scores.
	DefaultVectorWeight = 0.7
	DefaultBM25Weight   = 0.3
	// DefaultSearchLimit is the final hybrid result count.
	DefaultSearchLimit = 5
	// DefaultCandidateMultiplier widens the per-set candidate pool.
	DefaultCandidateMultiplier = 3
)

// SearchResult is one retrieval hit.
type SearchResult struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	FilePath string  `json:"file_path"`
	Score    float64 `json:"score"`

	// Raw per-set scores, kept for hybrid combination and tie-breaks.
	VectorScore  float64 `json:"vector_score,omitempty"`
	LexicalScore float64 `json:"lexical_score,omitempty"`
}

// SearchOptions tunes hybridSearch. Zero values take defaults.
type SearchOptions struct {
	Limit               int
	VectorWeight        float64
	BM25Weight          float64
	CandidateMultiplier int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultSearchLimit
	}
	if o.VectorWeight == 0 && o.BM25Weight == 0 {
		o.VectorWeight = DefaultVectorWeight
		o.BM25Weight = DefaultBM25Weight
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = DefaultCandidateMultiplier
	}
	return o
}

// Index is the hybrid lexical+vector store over memory chunks. Three
// relations share the chunk id: the chunk record, an FTS5 row and a
// fixed-dimension vector. Writers take the exclusive lock; searches
// run under the read lock.
type Index struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int
}

// OpenIndex opens (creating if needed) the index database.
func OpenIndex(path string, dim int) (*Index, error) {
	if dim <= 0 {
		dim = DefaultEmbedDim
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// Single connection keeps FTS writes and reads on one handle.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, dim: dim}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// schemaVersion is stored in the sqlite user_version pragma. Bump it
// when the layout below changes incompatibly.
const schemaVersion = 1

func (x *Index) migrate() error {
	var current int
	if err := x.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read index schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("index schema version %d is newer than this binary supports (%d)", current, schemaVersion)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id          TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			file_path   TEXT NOT NULL,
			idx         INTEGER NOT NULL,
			token_count INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_by_file ON chunks(file_path)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(content, id UNINDEXED)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			id     TEXT PRIMARY KEY,
			vector BLOB NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := x.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	if _, err := x.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("write index schema version: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (x *Index) Close() error {
	return x.db.Close()
}

// InsertChunks writes chunks and their embeddings transactionally.
// Existing ids are replaced across all three relations.
func (x *Index) InsertChunks(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("insert chunks: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	for i, vec := range embeddings {
		if len(vec) != x.dim {
			return fmt.Errorf("insert chunks: embedding %d has dimension %d, want %d", i, len(vec), x.dim)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE id = ?`, c.ID); err != nil {
			return fmt.Errorf("replace fts row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (id, content, file_path, idx, token_count) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Content, c.FilePath, c.Index, c.TokenCount); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (content, id) VALUES (?, ?)`, c.Content, c.ID); err != nil {
			return fmt.Errorf("insert fts row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO embeddings (id, vector) VALUES (?, ?)`,
			c.ID, encodeVector(embeddings[i])); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteByFilePath removes every chunk owned by the file from all three
// relations in one transaction.
func (x *Index) DeleteByFilePath(ctx context.Context, filePath string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE id IN (SELECT id FROM chunks WHERE file_path = ?)`, filePath); err != nil {
		return fmt.Errorf("delete fts rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE id IN (SELECT id FROM chunks WHERE file_path = ?)`, filePath); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, filePath); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return tx.Commit()
}

// SearchVector returns the k nearest chunks by cosine similarity.
// Score is 1 - cosineDistance, i.e. the similarity itself.
func (x *Index) SearchVector(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("search vector: query dimension %d, want %d", len(query), x.dim)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.file_path, e.vector
		FROM embeddings e JOIN chunks c ON c.id = e.id`)
	if err != nil {
		return nil, fmt.Errorf("search vector: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Content, &r.FilePath, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		r.Score = cosineSimilarity(query, vec)
		r.VectorScore = r.Score
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchLexical returns the top k chunks by BM25 rank. SQLite's rank is
// lower-is-better, so score is the negated rank.
func (x *Index) SearchLexical(ctx context.Context, query string, k int) ([]SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.file_path, f.rank
		FROM chunks_fts f JOIN chunks c ON c.id = f.id
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("search lexical: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var rank float64
		if err := rows.Scan(&r.ID, &r.Content, &r.FilePath, &rank); err != nil {
			return nil, err
		}
		r.Score = -rank
		r.LexicalScore = r.Score
		results = append(results, r)
	}
	return results, rows.Err()
}

// HybridSearch runs vector and lexical retrieval in parallel over a
// widened candidate pool, min-max normalizes each set into [0,1] and
// combines by weighted sum. Ties break by higher vector score, then
// lexical score, then id.
func (x *Index) HybridSearch(ctx context.Context, query string, queryEmbedding []float32, opts SearchOptions) ([]SearchResult, error) {
	opts = opts.withDefaults()
	pool := opts.Limit * opts.CandidateMultiplier

	var (
		wg      sync.WaitGroup
		vecRes  []SearchResult
		lexRes  []SearchResult
		vecErr  error
		lexErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if len(queryEmbedding) > 0 {
			vecRes, vecErr = x.SearchVector(ctx, queryEmbedding, pool)
		}
	}()
	go func() {
		defer wg.Done()
		lexRes, lexErr = x.SearchLexical(ctx, query, pool)
	}()
	wg.Wait()

	// Either arm alone is still usable; fail only when both fail.
	if vecErr != nil && lexErr != nil {
		return nil, fmt.Errorf("hybrid search: %w", vecErr)
	}

	vecNorm := normalizeScores(vecRes)
	lexNorm := normalizeScores(lexRes)

	type combined struct {
		SearchResult
		vec float64
		lex float64
	}
	byID := make(map[string]*combined)
	for i, r := range vecRes {
		byID[r.ID] = &combined{SearchResult: r, vec: vecNorm[i]}
	}
	for i, r := range lexRes {
		if c, ok := byID[r.ID]; ok {
			c.lex = lexNorm[i]
			c.LexicalScore = r.LexicalScore
		} else {
			byID[r.ID] = &combined{SearchResult: r, lex: lexNorm[i]}
		}
	}

	merged := make([]combined, 0, len(byID))
	for _, c := range byID {
		c.Score = opts.VectorWeight*c.vec + opts.BM25Weight*c.lex
		merged = append(merged, *c)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.vec != b.vec {
			return a.vec > b.vec
		}
		if a.lex != b.lex {
			return a.lex > b.lex
		}
		return a.ID < b.ID
	})

	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	out := make([]SearchResult, len(merged))
	for i, c := range merged {
		out[i] = c.SearchResult
	}
	return out, nil
}

// CountByFilePath returns chunk/fts/embedding row counts for a file.
func (x *Index) CountByFilePath(ctx context.Context, filePath string) (chunks, fts, vectors int, err error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	row := x.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chunks WHERE file_path = ?),
			(SELECT COUNT(*) FROM chunks_fts WHERE id IN (SELECT id FROM chunks WHERE file_path = ?)),
			(SELECT COUNT(*) FROM embeddings WHERE id IN (SELECT id FROM chunks WHERE file_path = ?))`,
		filePath, filePath, filePath)
	err = row.Scan(&chunks, &fts, &vectors)
	return
}

// normalizeScores min-max normalizes a result set's scores into [0,1].
// A singleton set or a degenerate range (max == min) normalizes to 1.
func normalizeScores(results []SearchResult) []float64 {
	norm := make([]float64, len(results))
	if len(results) == 0 {
		return norm
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	for i, r := range results {
		if max == min {
			norm[i] = 1
		} else {
			norm[i] = (r.Score - min) / (max - min)
		}
	}
	return norm
}

// ftsQuery quotes each token so user input cannot inject FTS5 syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("decode vector: blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
