// Package store defines where mapped project documents are persisted.
//
// Every store keys documents by hmt_id and upserts: submitting a document
// whose id is already stored replaces it, so re-running an ingest over the
// same register leaves the store unchanged.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
)

var (
	// ErrNotFound indicates a requested document is missing.
	ErrNotFound = errors.New("document not found")

	// ErrPermanent marks a failure that retrying will not fix, such as a
	// constraint violation.
	ErrPermanent = errors.New("permanent store failure")

	// ErrUnavailable marks a store that could not be reached.
	ErrUnavailable = errors.New("store unavailable")

	// ErrUnknownEntity indicates a listing was asked for an entity the store
	// does not hold.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Store accepts documents.
type Store interface {
	// Upsert stores doc under its hmt_id, replacing any earlier version.
	Upsert(ctx context.Context, doc *project.Document) error
	Close() error
}

// Reader reads stored documents back.
type Reader interface {
	// Get returns the document with the given hmt_id, or ErrNotFound.
	Get(ctx context.Context, hmtID int) (*project.Document, error)

	// List returns documents in hmt_id order.
	List(ctx context.Context, offset, limit int) (Page, error)
}

// ReadStore is a store that can also be read.
type ReadStore interface {
	Store
	Reader
}

// Page is one page of documents.
type Page struct {
	Documents []*project.Document
	Total     int
}

// EntityLister is implemented by relational stores that hold the register's
// lookup tables (department, sector, company, ...) as separate entities.
type EntityLister interface {
	// Entities lists the entity names, in a stable order.
	Entities() []string

	// ListEntity returns one page of an entity's rows, as column -> value.
	// Unknown entities give ErrUnknownEntity.
	ListEntity(ctx context.Context, entity string, offset, limit int) (EntityPage, error)
}

// EntityPage is one page of entity rows.
type EntityPage struct {
	Objects []map[string]any
	Total   int
}
