// Package export turns a user's transactions into a report: a CSV download or
// a tab in a Google spreadsheet.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"finary/internal/core"
)

// Header is the first row of every report.
var Header = []string{"Date", "Category", "Description", "Amount"}

// FileName names the CSV report for the given day.
func FileName(now time.Time) string {
	return fmt.Sprintf("Finary_Report_%s.csv", core.DateOf(now).String())
}

// Rows renders txs in report order, header first.
func Rows(txs []core.Transaction) [][]string {
	rows := make([][]string, 0, len(txs)+1)
	rows = append(rows, Header)
	for _, t := range txs {
		rows = append(rows, []string{t.Date.String(), t.Category, t.Description, t.Amount.String()})
	}
	return rows
}

// WriteCSV writes the report as CSV with standard quoting.
func WriteCSV(w io.Writer, txs []core.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Rows(txs)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
