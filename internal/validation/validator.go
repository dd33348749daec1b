// =============================================================================
// PFI Indexer - Data Quality Checks
// =============================================================================
//
// This module inspects mapped documents for problems that do not stop a
// document from being stored but are worth reporting. Malformed rows are the
// mapper's business; by the time a document reaches the checker it is
// well-typed.
//
// CHECKS:
//   1. duplicate_key     - the hmt_id was already seen earlier in this run;
//                          the later row supersedes the earlier one at the store
//   2. equity_share_sum  - named equity shares do not add up to 100
//   3. orphan_share      - an equity pair has a share but no holder name
//
// ERROR HANDLING:
//   - Findings are collected, never returned as errors
//   - Each finding carries the row number and hmt_id for troubleshooting
//
// =============================================================================

package validation

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
)

// =============================================================================
// WARNING TYPES
// =============================================================================

// Kind identifies the check that produced a warning.
type Kind string

const (
	KindDuplicateKey   Kind = "duplicate_key"
	KindEquityShareSum Kind = "equity_share_sum"
	KindOrphanShare    Kind = "orphan_share"
)

// SeverityWarning marks a finding that does not stop the row.
const SeverityWarning = "warning"

// Warning is a single data quality finding.
type Warning struct {
	Kind Kind

	// Severity is always SeverityWarning.
	Severity string

	// RowNumber is the source row number of the document.
	RowNumber int

	HMTID int

	// Field is the document field concerned, if any.
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (w *Warning) Error() string {
	return fmt.Sprintf("[%s] row %d, hmt_id %d, %s: %s",
		strings.ToUpper(w.Severity),
		w.RowNumber,
		w.HMTID,
		w.Kind,
		w.Message,
	)
}

// =============================================================================
// CHECKER
// =============================================================================

// Options contains options for the checks.
type Options struct {
	// ShareTolerance is how far the equity share sum may be from 100.
	// Default: 0.5
	ShareTolerance float64

	// SkipEquity turns off the equity checks.
	// Default: false
	SkipEquity bool
}

// DefaultOptions returns the default check options.
func DefaultOptions() Options {
	return Options{ShareTolerance: 0.5}
}

// Checker runs the checks over the documents of one run. It remembers which
// ids it has seen, so use a new Checker per run. Safe for concurrent use, but
// duplicate detection is only meaningful when documents arrive in source
// order.
type Checker struct {
	opts Options

	mu   sync.Mutex
	seen map[int]int // hmt_id -> first row number
}

// NewChecker creates a Checker.
func NewChecker(opts Options) *Checker {
	if opts.ShareTolerance <= 0 {
		opts.ShareTolerance = DefaultOptions().ShareTolerance
	}
	return &Checker{
		opts: opts,
		seen: make(map[int]int),
	}
}

// Check runs every check on doc, mapped from source row rowNumber.
//
// PARAMETERS:
//   - rowNumber: The source row number.
//   - doc: The mapped document.
//
// RETURNS:
//   - The findings, or nil when the document is clean.
func (c *Checker) Check(rowNumber int, doc *project.Document) []*Warning {
	var warnings []*Warning

	if w := c.checkDuplicate(rowNumber, doc); w != nil {
		warnings = append(warnings, w)
	}
	if !c.opts.SkipEquity {
		warnings = append(warnings, c.checkEquity(rowNumber, doc)...)
	}
	return warnings
}

// Seen returns the number of distinct ids checked so far.
func (c *Checker) Seen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Checker) checkDuplicate(rowNumber int, doc *project.Document) *Warning {
	c.mu.Lock()
	defer c.mu.Unlock()

	first, dup := c.seen[doc.HMTID]
	if !dup {
		c.seen[doc.HMTID] = rowNumber
		return nil
	}
	return &Warning{
		Kind:      KindDuplicateKey,
		Severity:  SeverityWarning,
		RowNumber: rowNumber,
		HMTID:     doc.HMTID,
		Field:     "hmt_id",
		Message:   fmt.Sprintf("hmt_id also on row %d; this row replaces it", first),
	}
}

func (c *Checker) checkEquity(rowNumber int, doc *project.Document) []*Warning {
	var warnings []*Warning

	var sum float64
	named := 0
	for i, h := range doc.EquityHolders {
		hasShare := h.Share != nil && *h.Share != 0
		if strings.TrimSpace(h.Name) == "" {
			if hasShare {
				warnings = append(warnings, &Warning{
					Kind:      KindOrphanShare,
					Severity:  SeverityWarning,
					RowNumber: rowNumber,
					HMTID:     doc.HMTID,
					Field:     fmt.Sprintf("equity_holders[%d]", i),
					Message:   fmt.Sprintf("share %g has no holder name", *h.Share),
				})
			}
			continue
		}
		if h.Share != nil {
			sum += *h.Share
			named++
		}
	}

	if named > 0 && math.Abs(sum-100) > c.opts.ShareTolerance {
		warnings = append(warnings, &Warning{
			Kind:      KindEquityShareSum,
			Severity:  SeverityWarning,
			RowNumber: rowNumber,
			HMTID:     doc.HMTID,
			Field:     "equity_holders",
			Message:   fmt.Sprintf("named shares sum to %g, not 100", sum),
		})
	}
	return warnings
}

// =============================================================================
// WARNING FORMATTING
// =============================================================================

// FormatWarnings formats warnings for display or logging.
//
// PARAMETERS:
//   - warnings: The warnings to format.
//
// RETURNS:
//   - A formatted string containing all warnings.
func FormatWarnings(warnings []*Warning) string {
	if len(warnings) == 0 {
		return "No data quality warnings."
	}

	var builder strings.Builder

	fmt.Fprintf(&builder, "Data quality checks raised %d warning(s):\n\n", len(warnings))

	for i, w := range warnings {
		fmt.Fprintf(&builder, "%d. %s\n", i+1, w.Error())
	}

	return builder.String()
}

// CountByKind tallies warnings per kind.
func CountByKind(warnings []*Warning) map[Kind]int {
	counts := make(map[Kind]int)
	for _, w := range warnings {
		counts[w.Kind]++
	}
	return counts
}
