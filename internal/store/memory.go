package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
)

// Memory is an in-memory ReadStore. Used for dry runs and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[int]*project.Document
}

var _ ReadStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[int]*project.Document)}
}

// Upsert stores a copy of doc.
func (m *Memory) Upsert(ctx context.Context, doc *project.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.HMTID] = doc.Clone()
	return nil
}

// Get returns a copy of the stored document.
func (m *Memory) Get(ctx context.Context, hmtID int) (*project.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[hmtID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// List returns copies of the stored documents in hmt_id order.
func (m *Memory) List(ctx context.Context, offset, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	page := Page{Total: len(ids)}
	for _, id := range window(ids, offset, limit) {
		page.Documents = append(page.Documents, m.docs[id].Clone())
	}
	return page, nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// window returns the part of s selected by offset and limit. A limit of zero
// or less means no limit.
func window[T any](s []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s) {
		return nil
	}
	s = s[offset:]
	if limit > 0 && limit < len(s) {
		s = s[:limit]
	}
	return s
}
