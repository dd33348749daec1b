package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/pfi-indexer/internal/mapper"
	"github.com/ginjaninja78/pfi-indexer/internal/validation"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrUnreadableRow marks a row the reader could not decode, such as a CSV
// row with a broken quote.
var ErrUnreadableRow = errors.New("row could not be read")

// RowError records a row that was skipped.
type RowError struct {
	// Row is the source row number.
	Row int

	// HMTID is set when IDKnown is true.
	HMTID   int
	IDKnown bool

	// Fields lists the failing fields, empty for unreadable rows.
	Fields []string

	Err error
}

func (e *RowError) Error() string {
	return e.Err.Error()
}

func (e *RowError) Unwrap() error { return e.Err }

func newRowError(row int, err error, unreadable bool) *RowError {
	re := &RowError{Row: row, Err: err}
	if unreadable {
		re.Err = fmt.Errorf("%w at row %d: %w", ErrUnreadableRow, row, err)
		return re
	}
	if mre, ok := mapper.AsMalformedRow(err); ok {
		re.HMTID = mre.HMTID
		re.IDKnown = mre.IDKnown
		re.Fields = mre.FieldNames()
	}
	return re
}

// StoreSubmissionError is returned when the store did not accept a document.
type StoreSubmissionError struct {
	Row   int
	HMTID int

	// Attempts is the number of upserts tried, including the first.
	Attempts int

	// Permanent is set when the store rejected the document outright, in
	// which case it was not retried.
	Permanent bool

	Err error
}

func (e *StoreSubmissionError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("store rejected hmt_id %d from row %d after %d attempt(s) (%s): %v",
		e.HMTID, e.Row, e.Attempts, kind, e.Err)
}

func (e *StoreSubmissionError) Unwrap() error { return e.Err }

// =============================================================================
// REPORT
// =============================================================================

// Report summarises one ingestion run.
type Report struct {
	RunID  string
	Source string
	DryRun bool

	StartedAt  time.Time
	FinishedAt time.Time

	// RowsRead counts every data row, readable or not.
	RowsRead int

	// Mapped counts rows that produced a document.
	Mapped int

	// Stored counts documents the store accepted.
	Stored int

	RowErrors   []*RowError
	StoreErrors []*StoreSubmissionError
	Warnings    []*validation.Warning
}

func newReport(source string, dryRun bool) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Source:    source,
		DryRun:    dryRun,
		StartedAt: time.Now(),
	}
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Skipped returns the number of rows that produced no document.
func (r *Report) Skipped() int {
	return len(r.RowErrors)
}

// HasFailures reports whether any row was skipped or not stored.
func (r *Report) HasFailures() bool {
	return len(r.RowErrors) > 0 || len(r.StoreErrors) > 0
}

// Summary formats the report for display.
//
// FORMAT:
//
//	Run 1f0c... of register.csv finished in 1.2s
//	  rows read:    120
//	  mapped:       118
//	  stored:       118
//	  skipped:      2
//	  store errors: 0
//	  warnings:     1
//
//	Skipped rows:
//	  1. malformed row 14 (hmt_id 512): capital_value (column 17): invalid number
//	  ...
func (r *Report) Summary() string {
	var b strings.Builder

	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(&b, "Run %s of %s finished in %s%s\n", r.RunID, r.Source, r.Duration().Round(time.Millisecond), mode)
	fmt.Fprintf(&b, "  rows read:    %d\n", r.RowsRead)
	fmt.Fprintf(&b, "  mapped:       %d\n", r.Mapped)
	fmt.Fprintf(&b, "  stored:       %d\n", r.Stored)
	fmt.Fprintf(&b, "  skipped:      %d\n", r.Skipped())
	fmt.Fprintf(&b, "  store errors: %d\n", len(r.StoreErrors))
	fmt.Fprintf(&b, "  warnings:     %d\n", len(r.Warnings))

	if len(r.RowErrors) > 0 {
		b.WriteString("\nSkipped rows:\n")
		for i, e := range r.RowErrors {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, e.Error())
		}
	}
	if len(r.StoreErrors) > 0 {
		b.WriteString("\nStore errors:\n")
		for i, e := range r.StoreErrors {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, e.Error())
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(validation.FormatWarnings(r.Warnings))
	}
	return b.String()
}
