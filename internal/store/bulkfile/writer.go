// =============================================================================
// PFI Indexer - Bulk File Writer
// =============================================================================
//
// This module writes project documents as a search-engine bulk request body
// (newline-delimited JSON), ready to be POSTed to the _bulk endpoint. It is
// the file-based replacement for loading the search index directly.
//
// FILE STRUCTURE:
//   Every document is an action line followed by the document itself:
//
//   {"index":{"_index":"pfi","_id":"100"}}
//   {"hmt_id":100,"project_name":"...","unitary_charge_payments":[...],...}
//   {"index":{"_index":"pfi","_id":"101"}}
//   {"hmt_id":101,...}
//
//   The _id is the hmt_id, so replaying the file into an index that already
//   holds a project overwrites it.
//
// WRITE MODEL:
//   Documents are kept in memory keyed by hmt_id until Close, so a project
//   submitted twice appears once, in its latest version. The file is then
//   written to a temporary name and renamed into place, so readers never see
//   a half-written file.
//
// =============================================================================

package bulkfile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
)

// =============================================================================
// WRITER OPTIONS
// =============================================================================

// Options contains options for the bulk file.
type Options struct {
	// Path is the bulk file to write.
	Path string

	// Index is the index named in each action line.
	// Default: "pfi"
	Index string

	// MappingPath, when set, receives the index mapping on Close.
	MappingPath string
}

// Store collects documents and writes them out on Close.
type Store struct {
	opts Options

	mu     sync.RWMutex
	docs   map[int]*project.Document
	closed bool
}

var _ store.ReadStore = (*Store)(nil)

// ErrClosed is returned by Upsert after Close.
var ErrClosed = errors.New("bulk file already written")

// New creates a bulk file store.
func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("bulk file path is required")
	}
	if opts.Index == "" {
		opts.Index = project.DefaultIndex
	}
	return &Store{opts: opts, docs: make(map[int]*project.Document)}, nil
}

// =============================================================================
// STORE OPERATIONS
// =============================================================================

// Upsert records doc, replacing any earlier document with the same hmt_id.
func (s *Store) Upsert(ctx context.Context, doc *project.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return store.Permanent(fmt.Errorf("document is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Permanent(ErrClosed)
	}
	s.docs[doc.HMTID] = doc.Clone()
	return nil
}

// Get returns a buffered document.
func (s *Store) Get(ctx context.Context, hmtID int) (*project.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[hmtID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

// List returns buffered documents in hmt_id order.
func (s *Store) List(ctx context.Context, offset, limit int) (store.Page, error) {
	if err := ctx.Err(); err != nil {
		return store.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sortedIDs()
	page := store.Page{Total: len(ids)}
	offset = max(offset, 0)
	if offset >= len(ids) {
		return page, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	for _, id := range ids {
		page.Documents = append(page.Documents, s.docs[id].Clone())
	}
	return page, nil
}

// Close writes the bulk file, and the mapping file when configured. Calling
// Close again does nothing.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := writeAtomic(s.opts.Path, s.writeBulk); err != nil {
		return fmt.Errorf("write bulk file: %w", err)
	}
	if s.opts.MappingPath != "" {
		if err := WriteMapping(s.opts.MappingPath); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) sortedIDs() []int {
	ids := make([]int, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// =============================================================================
// FILE GENERATION
// =============================================================================

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// writeBulk writes the action and document lines in hmt_id order.
func (s *Store) writeBulk(w *bufio.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, id := range s.sortedIDs() {
		doc := s.docs[id]
		if err := enc.Encode(bulkAction{Index: bulkTarget{Index: s.opts.Index, ID: doc.ID()}}); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode project %d: %w", id, err)
		}
	}
	return nil
}

// WriteMapping writes the index mapping for project documents as indented
// JSON.
//
// PARAMETERS:
//   - path: The output file.
//
// RETURNS:
//   - An error if the file cannot be written.
func WriteMapping(path string) error {
	err := writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(project.IndexMapping())
	})
	if err != nil {
		return fmt.Errorf("write mapping file: %w", err)
	}
	return nil
}

// writeAtomic writes to a temporary file next to path and renames it over
// path once fill has succeeded.
func writeAtomic(path string, fill func(*bufio.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
