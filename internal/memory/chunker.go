// Package memory implements long-term agent memory: markdown files on
// disk, chunked and embedded into a hybrid lexical+vector index.
package memory

import (
	"fmt"
	"strings"
)

const (
	// DefaultChunkWords is the per-section word budget before splitting.
	DefaultChunkWords = 400
	// DefaultChunkOverlap is the word overlap between split sub-chunks.
	DefaultChunkOverlap = 80

	// maxHeadingDepth bounds which headings open a new section.
	maxHeadingDepth = 3
)

// Chunk is one indexable segment of a memory file.
type Chunk struct {
	ID         string `json:"id"` // "{relativePath}:{index}"
	Content    string `json:"content"`
	FilePath   string `json:"file_path"`
	Index      int    `json:"index"`
	TokenCount int    `json:"token_count"` // word count, used as a cheap token proxy
}

// Chunker splits markdown documents into bounded, overlapping chunks.
type Chunker struct {
	ChunkWords int
	Overlap    int
}

// NewChunker applies defaults for zero values.
func NewChunker(chunkWords, overlap int) *Chunker {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}
	if overlap < 0 || overlap >= chunkWords {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{ChunkWords: chunkWords, Overlap: overlap}
}

// Split chunks a markdown document. Sections open at headings of depth
// <= 3; a section exceeding the word budget is split into overlapping
// sub-chunks. Chunk IDs are "{relativePath}:{index}" with index counting
// across the whole file.
func (c *Chunker) Split(relativePath, content string) []Chunk {
	sections := splitSections(content)

	var chunks []Chunk
	idx := 0
	for _, section := range sections {
		text := strings.TrimSpace(section)
		if text == "" {
			continue
		}
		for _, piece := range c.splitByWords(text) {
			chunks = append(chunks, Chunk{
				ID:         fmt.Sprintf("%s:%d", relativePath, idx),
				Content:    piece,
				FilePath:   relativePath,
				Index:      idx,
				TokenCount: len(strings.Fields(piece)),
			})
			idx++
		}
	}
	return chunks
}

// splitSections breaks the document at markdown headings of depth <= 3.
// The heading line stays with its section body.
func splitSections(content string) []string {
	lines := strings.Split(content, "\n")

	var sections []string
	var current []string
	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && isSectionHeading(line) && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = current[:0]
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

func isSectionHeading(line string) bool {
	trimmed := strings.TrimLeft(line, "#")
	depth := len(line) - len(trimmed)
	return depth >= 1 && depth <= maxHeadingDepth && strings.HasPrefix(trimmed, " ")
}

// splitByWords splits text exceeding the word budget into overlapping
// windows. The final window may be shorter; every word appears in at
// least one window.
func (c *Chunker) splitByWords(text string) []string {
	words := strings.Fields(text)
	if len(words) <= c.ChunkWords {
		return []string{text}
	}

	step := c.ChunkWords - c.Overlap
	var pieces []string
	for start := 0; start < len(words); start += step {
		end := start + c.ChunkWords
		if end > len(words) {
			end = len(words)
		}
		pieces = append(pieces, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return pieces
}
