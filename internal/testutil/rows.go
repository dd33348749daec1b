// Package testutil builds register rows and files for tests.
package testutil

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// RowWidth matches the register layout width.
const RowWidth = 101

// ValidRow returns a fully populated register row for project id.
func ValidRow(id int) []string {
	row := make([]string, RowWidth)
	row[0] = strconv.Itoa(id)
	row[1] = "Project " + strconv.Itoa(id)
	row[2] = "Department of Health"
	row[3] = "Leeds Teaching Hospitals NHS Trust"
	row[4] = "Health"
	row[5] = "Leeds Central"
	row[6] = "Yorkshire and the Humber"
	row[7] = "Operational"
	row[8] = "12/03/1999"
	row[9] = "01/02/2000"
	row[10] = "2001-06-30"
	row[11] = "31/03/2004"
	row[12] = "01/04/2004"
	row[13] = "30"
	row[14] = "OFF"
	row[15] = "ON"
	row[16] = ""
	row[17] = "265.5"
	for i := 18; i <= 84; i++ {
		row[i] = "1.5"
	}
	row[85] = ""
	holders := []string{"Innisfree", "50", "HSBC Infrastructure", "30", "Balfour Beatty", "20", "", "", "", "", "", ""}
	copy(row[86:98], holders)
	row[98] = "Leeds Hospital SPV Ltd"
	row[99] = "04325678"
	row[100] = "1 Park Row, Leeds"
	return row
}

// CSV renders rows as comma-separated, double-quote quoted text.
func CSV(rows ...[]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range rows {
		_ = w.Write(r)
	}
	w.Flush()
	return buf.Bytes()
}
