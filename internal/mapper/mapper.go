// =============================================================================
// PFI Indexer - Record Mapper
// =============================================================================
//
// The mapper turns one positional register row into one Project Document.
//
// MAPPING STEPS:
//   1. Decode hmt_id, so any later failure can name the project
//   2. Check the row is wide enough for the layout
//   3. Decode the scalar columns (text, keyword, date, int, float, flags)
//   4. Expand the payment groups into year-stamped payment entries
//   5. Expand the equity column pairs into (name, share) entries
//
// The mapper holds no state between rows. The same row always produces the
// same document, and a Mapper may be shared by any number of goroutines.
//
// =============================================================================

package mapper

import (
	"errors"
	"fmt"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
)

// Mapper maps register rows to documents using one Layout.
type Mapper struct {
	layout  Layout
	decoder *Decoder
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLayout selects the column layout. Defaults to NewLayoutV1.
func WithLayout(l Layout) Option {
	return func(m *Mapper) {
		m.layout = l
	}
}

// WithDateLayouts sets the accepted date formats, tried in order.
func WithDateLayouts(layouts ...string) Option {
	return func(m *Mapper) {
		m.decoder = NewDecoder(layouts...)
	}
}

// New builds a Mapper and validates its layout.
func New(opts ...Option) (*Mapper, error) {
	m := &Mapper{
		layout:  NewLayoutV1(),
		decoder: NewDecoder(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.layout.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Layout returns the layout in use.
func (m *Mapper) Layout() Layout {
	return m.layout
}

// Map converts a row into a Document. On failure the error is a
// *MalformedRowError with Row left at zero; callers that know the row number
// should use MapRow.
func (m *Mapper) Map(row []string) (*project.Document, error) {
	return m.MapRow(0, row)
}

// MapRow is Map with the source row number recorded on any error.
func (m *Mapper) MapRow(rowNumber int, row []string) (*project.Document, error) {
	l := m.layout
	doc := &project.Document{}
	rowErr := &MalformedRowError{Row: rowNumber, Width: len(row)}

	// Identity first.
	if l.ID.Index < len(row) {
		id, err := m.decoder.Int(row[l.ID.Index])
		if err != nil {
			rowErr.Fields = append(rowErr.Fields, &FieldError{Field: l.ID.Field, Column: l.ID.Index, Value: row[l.ID.Index], Err: err})
		} else {
			doc.HMTID = id
			rowErr.HMTID = id
			rowErr.IDKnown = true
		}
	}

	if len(row) < l.MinWidth {
		rowErr.Err = ErrShortRow
		return nil, rowErr
	}

	for _, c := range l.Scalars {
		if err := c.assign(doc, row[c.Index], m.decoder); err != nil {
			rowErr.Fields = append(rowErr.Fields, &FieldError{Field: c.Field, Column: c.Index, Value: row[c.Index], Err: err})
		}
	}

	doc.UnitaryChargePayments = make([]project.Payment, 0, l.PaymentCount())
	for _, g := range l.Payments {
		for i := 0; i < g.Count; i++ {
			col := g.Start + i
			amount, err := m.decoder.Float(row[col])
			if err != nil {
				rowErr.Fields = append(rowErr.Fields, &FieldError{
					Field:  fmt.Sprintf("unitary_charge_payments[%d].payment", len(doc.UnitaryChargePayments)),
					Column: col,
					Value:  row[col],
					Err:    err,
				})
			}
			doc.UnitaryChargePayments = append(doc.UnitaryChargePayments, project.Payment{
				Estimated: g.Estimated,
				Year:      g.BaseYear + i,
				Payment:   amount,
			})
		}
	}

	doc.EquityHolders = make([]project.EquityHolder, 0, l.Equity.Slots)
	for i := 0; i < l.Equity.Slots; i++ {
		nameCol := l.Equity.Start + 2*i
		shareCol := nameCol + 1
		share, err := m.decoder.Float(row[shareCol])
		if err != nil {
			rowErr.Fields = append(rowErr.Fields, &FieldError{
				Field:  fmt.Sprintf("equity_holders[%d].share", i),
				Column: shareCol,
				Value:  row[shareCol],
				Err:    err,
			})
		}
		doc.EquityHolders = append(doc.EquityHolders, project.EquityHolder{
			Name:  row[nameCol],
			Share: share,
		})
	}

	if len(rowErr.Fields) > 0 {
		return nil, rowErr
	}
	return doc, nil
}

// AsMalformedRow unwraps err into a *MalformedRowError.
func AsMalformedRow(err error) (*MalformedRowError, bool) {
	var mre *MalformedRowError
	if errors.As(err, &mre) {
		return mre, true
	}
	return nil, false
}
