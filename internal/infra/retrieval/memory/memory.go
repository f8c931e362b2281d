// Package memory provides an in-memory RetrievalIndex used for tests and
// for running without Postgres/pgvector configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

// Index is a mutex-guarded, keyword-overlap RetrievalIndex.
type Index struct {
	mu     sync.RWMutex
	chunks map[evalcore.Collection][]evalcore.ReferenceChunk
}

// New constructs an empty Index.
func New() *Index {
	return &Index{chunks: make(map[evalcore.Collection][]evalcore.ReferenceChunk)}
}

// IndexDocument stores doc.ExtractedText under collection as one chunk.
// Unlike the postgres-backed implementation, it neither chunks nor embeds
// the text.
func (idx *Index) IndexDocument(_ context.Context, doc evalcore.Document, collection evalcore.Collection) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunks[collection] = append(idx.chunks[collection], evalcore.ReferenceChunk{
		ChunkID:     doc.DocID,
		SourceDocID: doc.DocID,
		Collection:  collection,
		Text:        doc.ExtractedText,
		OwnerID:     doc.OwnerID,
		DocType:     doc.Type,
	})
	return nil
}

// Search performs a naive keyword-overlap scoring since the in-memory index
// has no embedding pipeline of its own; it exists for tests and as a
// degrade-to-something-usable path, not for production relevance.
func (idx *Index) Search(_ context.Context, queryText string, collection evalcore.Collection, maxResults int, filter evalcore.SearchFilter, threshold float64) ([]evalcore.ReferenceChunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := idx.chunks[collection]
	scored := make([]evalcore.ReferenceChunk, 0, len(candidates))
	for _, c := range candidates {
		if filter.DocType != "" && c.DocType != filter.DocType {
			continue
		}
		score := keywordOverlap(queryText, c.Text)
		if score < threshold {
			continue
		}
		c.Score = score
		scored = append(scored, c)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if maxResults > 0 && len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored, nil
}

// Remove deletes every chunk sourced from docID within collection.
func (idx *Index) Remove(_ context.Context, docID string, collection evalcore.Collection) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	kept := idx.chunks[collection][:0]
	for _, c := range idx.chunks[collection] {
		if c.SourceDocID != docID {
			kept = append(kept, c)
		}
	}
	idx.chunks[collection] = kept
	return nil
}

func keywordOverlap(query, text string) float64 {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return 0
	}
	tTokens := tokenSet(text)
	matched := 0
	for tok := range qTokens {
		if tTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(qTokens))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		if isWordRune(r) {
			word = append(word, toLower(r))
		} else {
			flush()
		}
	}
	flush()
	return out
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

var _ evalcore.RetrievalIndex = (*Index)(nil)
