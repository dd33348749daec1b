// =============================================================================
// PFI Indexer - XLSX Parser Module
// =============================================================================
//
// This module reads register extracts saved as Excel workbooks. Like the CSV
// parser it yields positional rows; the workbook's own column letters are
// ignored beyond their order.
//
// WORKBOOK HANDLING:
//   - The sheet is chosen by name, or the first sheet when none is given
//   - Rows are streamed with excelize's row iterator, not loaded whole
//   - Cell text is the formatted value, as a user sees it in Excel, except
//     that the built-in short date format is rendered as YYYY-MM-DD so dates
//     do not depend on the workbook's locale
//   - Excel omits trailing empty cells, so rows are padded with blanks up to
//     the configured width
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/types"
)

// =============================================================================
// STREAMING PARSER
// =============================================================================

// StreamingParser reads one worksheet row by row. It implements
// types.RowSource.
type StreamingParser struct {
	file      *excelize.File
	rows      *excelize.Rows
	sheet     string
	settings  config.XLSXSettings
	current   types.Row
	rowNumber int
	err       error
}

var _ types.RowSource = (*StreamingParser)(nil)

// workbookOptions renders built-in date formats 14 and 22 in ISO order.
var workbookOptions = excelize.Options{ShortDatePattern: "yyyy-mm-dd"}

// Open opens a workbook for streaming.
//
// PARAMETERS:
//   - filePath: The path to the .xlsx file.
//   - settings: The XLSX settings from the main configuration.
//
// RETURNS:
//   - A pointer to the StreamingParser. Close releases the workbook.
//   - An error if the workbook or sheet cannot be opened.
func Open(filePath string, settings config.XLSXSettings) (*StreamingParser, error) {
	f, err := excelize.OpenFile(filePath, workbookOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	p, err := newParser(f, settings)
	if err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// NewStreamingParser reads a workbook from r.
func NewStreamingParser(r io.Reader, settings config.XLSXSettings) (*StreamingParser, error) {
	f, err := excelize.OpenReader(r, workbookOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	p, err := newParser(f, settings)
	if err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func newParser(f *excelize.File, settings config.XLSXSettings) (*StreamingParser, error) {
	if settings.HeaderRows < 0 {
		return nil, fmt.Errorf("header_rows must not be negative")
	}

	sheet, err := resolveSheet(f, settings.Sheet)
	if err != nil {
		return nil, err
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return &StreamingParser{
		file:     f,
		rows:     rows,
		sheet:    sheet,
		settings: settings,
	}, nil
}

// resolveSheet returns the named sheet, or the first sheet when name is empty.
func resolveSheet(f *excelize.File, name string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	if name == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if strings.EqualFold(s, name) {
			return s, nil
		}
	}
	return "", fmt.Errorf("sheet %q not found (sheets: %s)", name, strings.Join(sheets, ", "))
}

// Sheet returns the name of the sheet being read.
func (p *StreamingParser) Sheet() string {
	return p.sheet
}

// Next advances to the next non-empty row after the header rows.
func (p *StreamingParser) Next() bool {
	if p.err != nil {
		return false
	}

	for p.rows.Next() {
		p.rowNumber++

		cols, err := p.rows.Columns()
		if err != nil {
			p.current = types.Row{
				Number: p.rowNumber,
				Err:    fmt.Errorf("row %d: %w", p.rowNumber, err),
			}
			return true
		}

		if p.rowNumber <= p.settings.HeaderRows || isRowEmpty(cols) {
			continue
		}

		p.current = types.Row{Number: p.rowNumber, Fields: pad(cols, p.settings.Width)}
		return true
	}

	if err := p.rows.Error(); err != nil {
		p.err = fmt.Errorf("error reading sheet %q: %w", p.sheet, err)
	}
	return false
}

// Row returns the current row.
func (p *StreamingParser) Row() types.Row {
	return p.current
}

// Err returns any fatal error that occurred while reading.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close releases the row iterator and the workbook.
func (p *StreamingParser) Close() error {
	rowsErr := p.rows.Close()
	if err := p.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// pad extends cols with blank cells up to width.
func pad(cols []string, width int) []string {
	if len(cols) >= width {
		return cols
	}
	out := make([]string, width)
	copy(out, cols)
	return out
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
