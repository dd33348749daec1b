package mapper

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
)

// DefaultDateLayouts are tried in order when decoding a date column. The
// register is a UK publication, so day-first layouts win over month-first.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"2/1/06",
	"02-Jan-2006",
	"2-Jan-06",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02-01-2006",
	"02-01-06",
}

var (
	ErrInvalidInt   = errors.New("not an integer")
	ErrInvalidFloat = errors.New("not a number")
	ErrInvalidDate  = errors.New("not a calendar date")
)

// Decoder turns column text into typed values. It is read-only after
// construction and safe for concurrent use.
type Decoder struct {
	dateLayouts []string
}

// NewDecoder returns a Decoder that tries layouts in order for dates. With no
// layouts DefaultDateLayouts is used.
func NewDecoder(layouts ...string) *Decoder {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	return &Decoder{dateLayouts: append([]string(nil), layouts...)}
}

// Int decodes a required integer. Integral decimals such as "25.0", which
// spreadsheet exports produce, are accepted. Exponent forms are not.
func (d *Decoder) Int(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrRequired
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || frac == "" || strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInt, raw)
	}
	v, err := strconv.Atoi(whole)
	if err != nil || whole == "" || whole[0] == '+' || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInt, raw)
	}
	return v, nil
}

// OptionalInt decodes an integer, treating blank text as absent.
func (d *Decoder) OptionalInt(raw string) (*int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := d.Int(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Float decodes a floating-point amount. Blank text is absent; anything else
// must parse as a finite number.
func (d *Decoder) Float(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFloat, raw)
	}
	return &v, nil
}

// Date decodes a calendar date. Blank text is absent, not an error.
func (d *Decoder) Date(raw string) (*project.Date, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	for _, layout := range d.dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return project.DateOf(t), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// OffBalanceFlag applies the off-balance-sheet rule: the flag is false only
// when the column reads "OFF" in any letter case, true for everything else
// including blank.
func OffBalanceFlag(raw string) bool {
	return strings.ToUpper(raw) != "OFF"
}
