// =============================================================================
// PFI Indexer - Project Document
// =============================================================================
//
// The Project Document is the nested, search-optimised shape produced for each
// row of the PFI project register. It is the unit of storage: every store keys
// documents by HMTID, so submitting the same project twice overwrites it.
//
// JSON SHAPE:
//   Field names follow the search index mapping used by the register since its
//   first load (hmt_id, project_name, off_balance_IFRS, ...). Dates are encoded
//   as "YYYY-MM-DD" and blank dates or blank numbers are encoded as null.
//
// =============================================================================

package project

import (
	"strconv"
)

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is one PFI project, fully typed.
type Document struct {
	// HMTID is the Treasury-assigned project identifier and the persistence key.
	HMTID int `json:"hmt_id"`

	ProjectName string `json:"project_name"`

	// Categorical fields. These are indexed as exact-match keywords.
	Department    string `json:"department"`
	ProcuringAuth string `json:"procuring_auth"`
	Sector        string `json:"sector"`
	Constituency  string `json:"constituency"`
	Region        string `json:"region"`
	ProjectStatus string `json:"project_status"`

	DateOJEU         *Date `json:"date_ojeu"`
	DatePrefBid      *Date `json:"date_pref_bid"`
	DateFinClose     *Date `json:"date_fin_close"`
	DateConsComplete *Date `json:"date_cons_complete"`
	DateOperational  *Date `json:"date_operational"`

	ContractYears *int `json:"contract_years"`

	// Off-balance-sheet flags for each accounting standard.
	OffBalanceIFRS  bool `json:"off_balance_IFRS"`
	OffBalanceESA95 bool `json:"off_balance_ESA95"`
	OffBalanceGAAP  bool `json:"off_balance_GAAP"`

	CapitalValue *float64 `json:"capital_value"`

	// UnitaryChargePayments holds the actual payments followed by the
	// estimated payments, in column order.
	UnitaryChargePayments []Payment `json:"unitary_charge_payments"`

	// EquityHolders holds every equity column pair, including pairs whose
	// name is blank.
	EquityHolders []EquityHolder `json:"equity_holders"`

	SPVName    string `json:"spv_name"`
	SPVNumber  string `json:"spv_number"`
	SPVAddress string `json:"spv_address"`
}

// Payment is one year of unitary charge payments.
type Payment struct {
	Estimated bool     `json:"estimated"`
	Year      int      `json:"year"`
	Payment   *float64 `json:"payment"`
}

// EquityHolder is one (name, share) pair from the equity columns.
type EquityHolder struct {
	Name  string   `json:"name"`
	Share *float64 `json:"share"`
}

// ID returns the document key as used by the stores.
func (d *Document) ID() string {
	return strconv.Itoa(d.HMTID)
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.DateOJEU = d.DateOJEU.clone()
	c.DatePrefBid = d.DatePrefBid.clone()
	c.DateFinClose = d.DateFinClose.clone()
	c.DateConsComplete = d.DateConsComplete.clone()
	c.DateOperational = d.DateOperational.clone()
	c.ContractYears = cloneInt(d.ContractYears)
	c.CapitalValue = cloneFloat(d.CapitalValue)

	if d.UnitaryChargePayments != nil {
		c.UnitaryChargePayments = make([]Payment, len(d.UnitaryChargePayments))
		for i, p := range d.UnitaryChargePayments {
			p.Payment = cloneFloat(p.Payment)
			c.UnitaryChargePayments[i] = p
		}
	}
	if d.EquityHolders != nil {
		c.EquityHolders = make([]EquityHolder, len(d.EquityHolders))
		for i, h := range d.EquityHolders {
			h.Share = cloneFloat(h.Share)
			c.EquityHolders[i] = h
		}
	}
	return &c
}

// Float returns a pointer to v. Handy for building documents in code.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
