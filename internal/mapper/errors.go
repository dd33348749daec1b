package mapper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShortRow is returned when a row has fewer columns than the layout.
	ErrShortRow = errors.New("row is shorter than the column layout")

	// ErrRequired is returned when a required column is blank.
	ErrRequired = errors.New("value is required")
)

// FieldError describes one column that could not be decoded.
type FieldError struct {
	Field  string
	Column int
	Value  string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s (column %d): %v", e.Field, e.Column, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// MalformedRowError reports why a row could not be mapped. Every failing
// column of the row is listed, not only the first.
type MalformedRowError struct {
	// Row is the 1-based row number in the source. Zero when unknown.
	Row int

	// HMTID is the project id, valid only when IDKnown is set.
	HMTID   int
	IDKnown bool

	// Width is the number of columns the row had.
	Width int

	// Err is a row-level cause such as ErrShortRow.
	Err error

	Fields []*FieldError
}

func (e *MalformedRowError) Error() string {
	var b strings.Builder
	b.WriteString("malformed row")
	if e.Row > 0 {
		fmt.Fprintf(&b, " %d", e.Row)
	}
	if e.IDKnown {
		fmt.Fprintf(&b, " (hmt_id %d)", e.HMTID)
	}
	b.WriteString(": ")

	var parts []string
	if e.Err != nil {
		if errors.Is(e.Err, ErrShortRow) {
			parts = append(parts, fmt.Sprintf("%v: got %d columns", e.Err, e.Width))
		} else {
			parts = append(parts, e.Err.Error())
		}
	}
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	b.WriteString(strings.Join(parts, "; "))
	return b.String()
}

// Unwrap exposes the row cause and every field error to errors.Is/As.
func (e *MalformedRowError) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, f := range e.Fields {
		errs = append(errs, f)
	}
	return errs
}

// FieldNames lists the failing fields, for logs.
func (e *MalformedRowError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}
