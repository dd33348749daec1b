package project

// DefaultIndex is the search index the register has always been loaded into.
const DefaultIndex = "pfi"

// IndexMapping returns the search-engine mapping for Document. Categorical
// fields are keywords (exact match); the repeat groups are nested so that
// year/payment and name/share pairs stay associated when queried.
func IndexMapping() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	text := map[string]any{"type": "text"}
	date := map[string]any{"type": "date", "format": "yyyy-MM-dd"}
	boolean := map[string]any{"type": "boolean"}
	integer := map[string]any{"type": "integer"}
	double := map[string]any{"type": "double"}

	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"hmt_id":       integer,
				"project_name": text,

				"department":     keyword,
				"procuring_auth": keyword,
				"sector":         keyword,
				"constituency":   keyword,
				"region":         keyword,
				"project_status": keyword,

				"date_ojeu":          date,
				"date_pref_bid":      date,
				"date_fin_close":     date,
				"date_cons_complete": date,
				"date_operational":   date,

				"contract_years": integer,

				"off_balance_IFRS":  boolean,
				"off_balance_ESA95": boolean,
				"off_balance_GAAP":  boolean,

				"capital_value": double,

				"unitary_charge_payments": map[string]any{
					"type": "nested",
					"properties": map[string]any{
						"estimated": boolean,
						"year":      integer,
						"payment":   double,
					},
				},
				"equity_holders": map[string]any{
					"type": "nested",
					"properties": map[string]any{
						"name":  keyword,
						"share": double,
					},
				},

				"spv_name":    keyword,
				"spv_number":  keyword,
				"spv_address": text,
			},
		},
	}
}
