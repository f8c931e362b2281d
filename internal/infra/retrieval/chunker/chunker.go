// Package chunker splits raw document text into overlapping,
// boundary-snapped chunks ready for embedding and indexing.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

const (
	defaultTarget    = 1000
	defaultOverlap   = 200
	minChunkRunes    = 50
	boundarySearchPct = 0.5
)

// BoundaryChunker splits text into target-sized windows with overlap,
// snapping each boundary to the nearest sentence or line break once past
// half of the target window so chunks don't split mid-sentence. Chunks
// shorter than minChunkRunes after trimming are discarded.
type BoundaryChunker struct {
	Target  int
	Overlap int
	encoder *tiktoken.Tiktoken
}

// NewBoundaryChunker constructs a BoundaryChunker with the given target
// chunk size and overlap, in characters.
func NewBoundaryChunker(target, overlap int) *BoundaryChunker {
	if target <= 0 {
		target = defaultTarget
	}
	if overlap < 0 || overlap >= target {
		overlap = defaultOverlap
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &BoundaryChunker{Target: target, Overlap: overlap, encoder: enc}
}

// Chunk implements evalcore.Chunker.
func (c *BoundaryChunker) Chunk(text string) []evalcore.ChunkCandidate {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var out []evalcore.ChunkCandidate
	start := 0
	index := 0
	for start < len(runes) {
		end := start + c.Target
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.snapBoundary(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(content) >= minChunkRunes {
			out = append(out, evalcore.ChunkCandidate{
				Index:      index,
				Content:    content,
				TokenCount: c.countTokens(content),
			})
			index++
		}

		if end >= len(runes) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// snapBoundary looks backward from end for a paragraph break, then a
// sentence terminator, then a line break, accepting the first one found
// past boundarySearchPct of the target window. Falls back to the raw end
// when nothing suitable is found.
func (c *BoundaryChunker) snapBoundary(runes []rune, start, end int) int {
	minAcceptable := start + int(float64(c.Target)*boundarySearchPct)

	if i := lastIndexRunes(runes, start, end, "\n\n"); i >= minAcceptable {
		return i + 2
	}
	for i := end - 1; i > minAcceptable; i-- {
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
				return i + 1
			}
		}
	}
	if i := lastIndexRunes(runes, start, end, "\n"); i >= minAcceptable {
		return i + 1
	}
	return end
}

func lastIndexRunes(runes []rune, start, end int, sep string) int {
	sepRunes := []rune(sep)
	for i := end - len(sepRunes); i >= start; i-- {
		if matchesAt(runes, i, sepRunes) {
			return i
		}
	}
	return -1
}

func matchesAt(runes []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func (c *BoundaryChunker) countTokens(text string) int {
	if c.encoder == nil {
		return len(strings.Fields(text))
	}
	return len(c.encoder.Encode(text, nil, nil))
}

var _ evalcore.Chunker = (*BoundaryChunker)(nil)
