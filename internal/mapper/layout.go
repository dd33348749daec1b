// =============================================================================
// PFI Indexer - Column Layout
// =============================================================================
//
// The register is a positional file: every project is one row and every
// attribute lives at a fixed, zero-based column offset. This file is the single
// place where those offsets are written down. A Layout names each column,
// states which document field it feeds and how the text is decoded.
//
// VERSIONING:
//   Changing a column offset is a breaking change to the input format. Such a
//   change gets a new Layout value with a new Version, never an edit of an
//   existing one, so older extracts can still be loaded by name.
//
// =============================================================================

package mapper

import (
	"fmt"
	"sort"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
)

// =============================================================================
// LAYOUT CONSTANTS
// =============================================================================

const (
	// MinRowWidth is the number of columns every row must carry.
	MinRowWidth = 101

	// PaymentBaseYear is the financial year of the first payment column.
	PaymentBaseYear = 1992

	ActualPaymentsStart    = 18
	ActualPaymentYears     = 21
	EstimatedPaymentsStart = 40
	EstimatedPaymentYears  = 45

	// EstimatedPaymentBaseYear is the year assigned to the first estimated
	// payment column. The register has always numbered both payment groups
	// from the same base year, so the estimated years overlap the actual ones.
	// LayoutV1Sequential continues the count instead.
	EstimatedPaymentBaseYear = PaymentBaseYear

	EquityStart       = 86
	EquityHolderSlots = 6
)

// Layout names.
const (
	LayoutV1           = "v1"
	LayoutV1Sequential = "v1-sequential"
)

// =============================================================================
// LAYOUT TYPES
// =============================================================================

// Kind says how a column's text is decoded.
type Kind int

const (
	KindText Kind = iota
	KindKeyword
	KindDate
	KindInt
	KindFloat
	KindOffBalance
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindKeyword:
		return "keyword"
	case KindDate:
		return "date"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindOffBalance:
		return "off_balance"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// assignFunc decodes raw with dec and stores the result on doc.
type assignFunc func(doc *project.Document, raw string, dec *Decoder) error

// Column maps one scalar document field to its offset.
type Column struct {
	Field  string
	Index  int
	Kind   Kind
	assign assignFunc
}

// PaymentGroup is a run of consecutive payment columns, one per year.
type PaymentGroup struct {
	Start     int
	Count     int
	BaseYear  int
	Estimated bool
}

// EquityGroup is a run of (name, share) column pairs.
type EquityGroup struct {
	Start int
	Slots int
}

// Layout is the complete, versioned column table of a register row.
type Layout struct {
	Version  string
	MinWidth int

	// ID is decoded before anything else so failures can be attributed.
	ID Column

	Scalars  []Column
	Payments []PaymentGroup
	Equity   EquityGroup
}

// =============================================================================
// KNOWN LAYOUTS
// =============================================================================

// NewLayoutV1 returns the register layout as published.
func NewLayoutV1() Layout {
	return Layout{
		Version:  LayoutV1,
		MinWidth: MinRowWidth,
		ID:       Column{Field: "hmt_id", Index: 0, Kind: KindInt},
		Scalars: []Column{
			textColumn("project_name", 1, KindText, func(d *project.Document) *string { return &d.ProjectName }),
			textColumn("department", 2, KindKeyword, func(d *project.Document) *string { return &d.Department }),
			textColumn("procuring_auth", 3, KindKeyword, func(d *project.Document) *string { return &d.ProcuringAuth }),
			textColumn("sector", 4, KindKeyword, func(d *project.Document) *string { return &d.Sector }),
			textColumn("constituency", 5, KindKeyword, func(d *project.Document) *string { return &d.Constituency }),
			textColumn("region", 6, KindKeyword, func(d *project.Document) *string { return &d.Region }),
			textColumn("project_status", 7, KindKeyword, func(d *project.Document) *string { return &d.ProjectStatus }),

			dateColumn("date_ojeu", 8, func(d *project.Document) **project.Date { return &d.DateOJEU }),
			dateColumn("date_pref_bid", 9, func(d *project.Document) **project.Date { return &d.DatePrefBid }),
			dateColumn("date_fin_close", 10, func(d *project.Document) **project.Date { return &d.DateFinClose }),
			dateColumn("date_cons_complete", 11, func(d *project.Document) **project.Date { return &d.DateConsComplete }),
			dateColumn("date_operational", 12, func(d *project.Document) **project.Date { return &d.DateOperational }),

			{Field: "contract_years", Index: 13, Kind: KindInt, assign: func(d *project.Document, raw string, dec *Decoder) error {
				v, err := dec.OptionalInt(raw)
				d.ContractYears = v
				return err
			}},

			offBalanceColumn("off_balance_IFRS", 14, func(d *project.Document) *bool { return &d.OffBalanceIFRS }),
			offBalanceColumn("off_balance_ESA95", 15, func(d *project.Document) *bool { return &d.OffBalanceESA95 }),
			offBalanceColumn("off_balance_GAAP", 16, func(d *project.Document) *bool { return &d.OffBalanceGAAP }),

			{Field: "capital_value", Index: 17, Kind: KindFloat, assign: func(d *project.Document, raw string, dec *Decoder) error {
				v, err := dec.Float(raw)
				d.CapitalValue = v
				return err
			}},

			textColumn("spv_name", 98, KindKeyword, func(d *project.Document) *string { return &d.SPVName }),
			textColumn("spv_number", 99, KindKeyword, func(d *project.Document) *string { return &d.SPVNumber }),
			textColumn("spv_address", 100, KindText, func(d *project.Document) *string { return &d.SPVAddress }),
		},
		Payments: []PaymentGroup{
			{Start: ActualPaymentsStart, Count: ActualPaymentYears, BaseYear: PaymentBaseYear, Estimated: false},
			{Start: EstimatedPaymentsStart, Count: EstimatedPaymentYears, BaseYear: EstimatedPaymentBaseYear, Estimated: true},
		},
		Equity: EquityGroup{Start: EquityStart, Slots: EquityHolderSlots},
	}
}

// NewLayoutV1Sequential is NewLayoutV1 with the estimated payment years
// following on from the last actual year.
func NewLayoutV1Sequential() Layout {
	l := NewLayoutV1()
	l.Version = LayoutV1Sequential
	l.Payments[1].BaseYear = PaymentBaseYear + ActualPaymentYears
	return l
}

// LayoutByName returns a known layout.
func LayoutByName(name string) (Layout, error) {
	switch name {
	case "", LayoutV1:
		return NewLayoutV1(), nil
	case LayoutV1Sequential:
		return NewLayoutV1Sequential(), nil
	default:
		return Layout{}, fmt.Errorf("unknown column layout %q (known: %s, %s)", name, LayoutV1, LayoutV1Sequential)
	}
}

// =============================================================================
// LAYOUT VALIDATION
// =============================================================================

// PaymentCount is the number of payment entries every document carries.
func (l Layout) PaymentCount() int {
	n := 0
	for _, g := range l.Payments {
		n += g.Count
	}
	return n
}

// Validate checks that every column is inside MinWidth and that no two
// fields read the same column.
func (l Layout) Validate() error {
	if l.MinWidth <= 0 {
		return fmt.Errorf("layout %s: min width must be positive", l.Version)
	}

	owners := make(map[int]string)
	claim := func(index int, field string) error {
		if index < 0 || index >= l.MinWidth {
			return fmt.Errorf("layout %s: %s column %d outside row width %d", l.Version, field, index, l.MinWidth)
		}
		if other, taken := owners[index]; taken {
			return fmt.Errorf("layout %s: column %d claimed by both %s and %s", l.Version, index, other, field)
		}
		owners[index] = field
		return nil
	}

	if err := claim(l.ID.Index, l.ID.Field); err != nil {
		return err
	}
	for _, c := range l.Scalars {
		if c.assign == nil {
			return fmt.Errorf("layout %s: column %s has no decoder", l.Version, c.Field)
		}
		if err := claim(c.Index, c.Field); err != nil {
			return err
		}
	}
	for gi, g := range l.Payments {
		if g.Count <= 0 {
			return fmt.Errorf("layout %s: payment group %d is empty", l.Version, gi)
		}
		for i := 0; i < g.Count; i++ {
			if err := claim(g.Start+i, fmt.Sprintf("payment group %d year %d", gi, g.BaseYear+i)); err != nil {
				return err
			}
		}
	}
	for i := 0; i < l.Equity.Slots; i++ {
		if err := claim(l.Equity.Start+2*i, fmt.Sprintf("equity holder %d name", i)); err != nil {
			return err
		}
		if err := claim(l.Equity.Start+2*i+1, fmt.Sprintf("equity holder %d share", i)); err != nil {
			return err
		}
	}
	return nil
}

// Columns lists the claimed columns in offset order. Used by the validate
// command to print the layout.
func (l Layout) Columns() []Column {
	cols := append([]Column{l.ID}, l.Scalars...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Index < cols[j].Index })
	return cols
}

// =============================================================================
// COLUMN CONSTRUCTORS
// =============================================================================

func textColumn(field string, index int, kind Kind, target func(*project.Document) *string) Column {
	return Column{Field: field, Index: index, Kind: kind, assign: func(d *project.Document, raw string, _ *Decoder) error {
		*target(d) = raw
		return nil
	}}
}

func dateColumn(field string, index int, target func(*project.Document) **project.Date) Column {
	return Column{Field: field, Index: index, Kind: KindDate, assign: func(d *project.Document, raw string, dec *Decoder) error {
		v, err := dec.Date(raw)
		*target(d) = v
		return err
	}}
}

func offBalanceColumn(field string, index int, target func(*project.Document) *bool) Column {
	return Column{Field: field, Index: index, Kind: KindOffBalance, assign: func(d *project.Document, raw string, _ *Decoder) error {
		*target(d) = OffBalanceFlag(raw)
		return nil
	}}
}
