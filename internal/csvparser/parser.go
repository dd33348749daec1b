// =============================================================================
// PFI Indexer - CSV Parser Module
// =============================================================================
//
// This module reads register extracts saved as CSV. The register is
// positional: columns are identified by offset, not by header, so rows are
// returned as plain string slices with their source row number attached.
//
// FEATURES:
//   - Configurable delimiter and leading header rows to skip
//   - Quoted fields, including embedded delimiters and newlines
//   - A UTF-8 byte order mark on the first field is removed
//   - A broken row is reported on that row and reading continues
//   - Streaming: only the current row is held in memory
//
// =============================================================================

package csvparser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// =============================================================================
// STREAMING PARSER
// =============================================================================

// StreamingParser reads a CSV extract one row at a time. It implements
// types.RowSource.
//
// USAGE:
//
//	parser, err := csvparser.Open(filePath, settings)
//	if err != nil {
//	    return err
//	}
//	defer parser.Close()
//
//	for parser.Next() {
//	    row := parser.Row()
//	    // Process the row...
//	}
//
//	if err := parser.Err(); err != nil {
//	    return err
//	}
type StreamingParser struct {
	closer     io.Closer
	reader     *csv.Reader
	settings   config.CSVSettings
	current    types.Row
	rowNumber  int
	err        error
	headerDone bool
}

var _ types.RowSource = (*StreamingParser)(nil)

// Open creates a streaming parser for a CSV file.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: The CSV settings from the main configuration.
//
// RETURNS:
//   - A pointer to the StreamingParser. Close releases the file.
//   - An error if the file cannot be opened.
func Open(filePath string, settings config.CSVSettings) (*StreamingParser, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	parser, err := NewStreamingParser(file, settings)
	if err != nil {
		file.Close()
		return nil, err
	}
	parser.closer = file
	return parser, nil
}

// NewStreamingParser creates a streaming parser over r. Closing the parser
// does not close r.
func NewStreamingParser(r io.Reader, settings config.CSVSettings) (*StreamingParser, error) {
	comma, err := config.Delimiter(settings.Delimiter)
	if err != nil {
		return nil, err
	}
	if settings.HeaderRows < 0 {
		return nil, fmt.Errorf("header_rows must not be negative")
	}

	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	configureReader(reader, comma, settings)

	return &StreamingParser{
		reader:   reader,
		settings: settings,
	}, nil
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, comma rune, settings config.CSVSettings) {
	reader.Comma = comma

	// Row width is checked by the mapper.
	reader.FieldsPerRecord = -1

	reader.LazyQuotes = settings.LazyQuotes

	// Field text is passed through untouched, spaces included.
	reader.TrimLeadingSpace = false
}

// skipHeaders consumes the configured header rows.
func (p *StreamingParser) skipHeaders() bool {
	for p.rowNumber < p.settings.HeaderRows {
		_, err := p.reader.Read()
		if err == io.EOF {
			return false
		}
		if err != nil && !isRowError(err) {
			p.err = fmt.Errorf("error reading header row %d: %w", p.rowNumber+1, err)
			return false
		}
		p.rowNumber++
	}
	return true
}

// Next advances to the next non-empty row. Returns false when there are no
// more rows or reading failed; see Err.
func (p *StreamingParser) Next() bool {
	if p.err != nil {
		return false
	}
	if !p.headerDone {
		p.headerDone = true
		if !p.skipHeaders() {
			return false
		}
	}

	for {
		record, err := p.reader.Read()
		if err == io.EOF {
			return false
		}
		p.rowNumber++

		if err != nil {
			if !isRowError(err) {
				p.err = fmt.Errorf("error reading row %d: %w", p.rowNumber, err)
				return false
			}
			p.current = types.Row{
				Number: p.rowNumber,
				Fields: record,
				Err:    fmt.Errorf("row %d: %w", p.rowNumber, err),
			}
			return true
		}

		// Skip empty rows.
		if isRowEmpty(record) {
			continue
		}

		p.current = types.Row{Number: p.rowNumber, Fields: record}
		return true
	}
}

// Row returns the current row.
func (p *StreamingParser) Row() types.Row {
	return p.current
}

// RowNumber returns the current row number (1-indexed).
func (p *StreamingParser) RowNumber() int {
	return p.rowNumber
}

// Err returns any fatal error that occurred during parsing.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close closes the underlying file, if the parser opened it.
func (p *StreamingParser) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// isRowError reports whether err is confined to one record. The csv reader
// resumes at the next record after a ParseError.
func isRowError(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe)
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ReadAll reads every row of r. Intended for small files and tests.
func ReadAll(r io.Reader, settings config.CSVSettings) ([]types.Row, error) {
	parser, err := NewStreamingParser(r, settings)
	if err != nil {
		return nil, err
	}
	var rows []types.Row
	for parser.Next() {
		rows = append(rows, parser.Row())
	}
	return rows, parser.Err()
}
