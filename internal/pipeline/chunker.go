// Package pipeline implements the document processing pipeline: text
// chunking, the extraction and embedding stages, and the job queue that
// sequences them per document.
package pipeline

import (
	"strings"

	"github.com/docuflow-ai/docuflow/internal/core"
)

// Default chunking parameters. 500/50 keeps grounded prompts well under a
// model's context budget while preserving continuity across boundaries.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunk splits text into windows of size runes; consecutive windows overlap
// by overlap runes so retrieval stays robust to sentence boundaries falling
// mid-window. A tail no longer than the overlap is absorbed into the last
// window instead of becoming a mostly-duplicate chunk. Empty or
// whitespace-only input yields no chunks. The function is pure: same input,
// same output, no I/O.
func Chunk(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, core.InvalidConfigf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, core.InvalidConfigf("overlap must be in [0, %d), got %d", size, overlap)
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := size - overlap
	chunks := make([]string, 0, len(runes)/step+1)

	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) || len(runes)-end <= overlap {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}
