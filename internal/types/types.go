// =============================================================================
// PFI Indexer - Shared Types
// =============================================================================
//
// This package contains types shared by the row readers and the batch driver,
// kept apart so that neither side imports the other. Types defined here are
// used by:
//   - csvparser
//   - xlsxparser
//   - ingest
//
// =============================================================================

package types

// =============================================================================
// ROW TYPES
// =============================================================================

// Row is one positional record read from a register extract.
type Row struct {
	// Number is the 1-based row number in the source, counting skipped
	// header rows, so it matches what a spreadsheet shows.
	Number int

	// Fields holds the raw column text in column order.
	Fields []string

	// Err is set when this one row could not be decoded, for example a CSV
	// row with a broken quote. Reading continues with the next row.
	Err error
}

// RowSource streams rows in file order.
//
// USAGE:
//
//	for src.Next() {
//	    row := src.Row()
//	    // Process the row...
//	}
//	if err := src.Err(); err != nil {
//	    return err
//	}
type RowSource interface {
	// Next advances to the next row. It returns false at the end of the
	// source or after a fatal read error.
	Next() bool

	// Row returns the current row. The Fields slice is owned by the caller.
	Row() Row

	// Err returns the fatal error that stopped reading, if any.
	Err() error

	// Close releases the underlying file.
	Close() error
}
