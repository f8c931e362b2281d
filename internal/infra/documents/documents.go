// Package documents adapts the external upload subsystem boundary: the
// evaluation core only ever reads a Document by ID through
// evalcore.DocumentProvider, never owns its bytes or lifecycle.
package documents

import (
	"context"
	"sync"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

// MemoryProvider is a fake upload-subsystem boundary used when no external
// document service is configured, and in tests.
type MemoryProvider struct {
	mu   sync.RWMutex
	docs map[string]evalcore.Document
}

// NewMemoryProvider constructs an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{docs: make(map[string]evalcore.Document)}
}

// Put registers doc under its DocID, as if it had been uploaded and
// extracted upstream. Tests and local wiring use this to seed fixtures.
func (p *MemoryProvider) Put(doc evalcore.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[doc.DocID] = doc
}

// GetDocument returns the document if it exists and is owned by ownerID.
func (p *MemoryProvider) GetDocument(_ context.Context, docID, ownerID string) (evalcore.Document, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc, ok := p.docs[docID]
	if !ok || doc.OwnerID != ownerID {
		return evalcore.Document{}, false, nil
	}
	return doc, true, nil
}

var _ evalcore.DocumentProvider = (*MemoryProvider)(nil)
