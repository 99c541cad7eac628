// Package export renders invoices for download: the invoice list as CSV or
// XLSX and a single invoice as PDF.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"invoicedesk.app/internal/billing"
)

// ListColumns is the header row of the invoice list exports.
var ListColumns = []string{"Invoice No", "Date", "Customer", "Amount", "Status", "Balance"}

const listSheet = "Invoices"

func listRow(inv billing.Invoice) []string {
	no := inv.InvoiceNo
	if no == "" {
		no = "Draft"
	}
	customer := inv.CustomerName
	if customer == "" {
		customer = inv.CustomerID
	}
	amount := "0.00"
	if inv.Totals != nil {
		amount = billing.Money(inv.Totals.Total)
	}
	return []string{no, inv.Date, customer, amount, string(inv.Status), billing.Money(inv.Balance)}
}

// WriteCSV writes the invoice list with a header row.
func WriteCSV(w io.Writer, invoices []billing.Invoice) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ListColumns); err != nil {
		return fmt.Errorf("export: csv header: %w", err)
	}
	for _, inv := range invoices {
		if err := cw.Write(listRow(inv)); err != nil {
			return fmt.Errorf("export: csv row %s: %w", inv.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the invoice list as a single-sheet workbook. Amount and
// Balance are numeric cells with a two-decimal format.
func WriteXLSX(w io.Writer, invoices []billing.Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", listSheet); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}

	header := make([]any, len(ListColumns))
	for i, c := range ListColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(listSheet, "A1", &header); err != nil {
		return fmt.Errorf("export: xlsx header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F0F0F0"}},
	})
	if err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}
	if err := f.SetCellStyle(listSheet, "A1", "F1", bold); err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("export: money style: %w", err)
	}

	for i, inv := range invoices {
		r := listRow(inv)
		amount := 0.0
		if inv.Totals != nil {
			amount = inv.Totals.Total.Round(2).InexactFloat64()
		}
		row := []any{r[0], r[1], r[2], amount, r[4], inv.Balance.Round(2).InexactFloat64()}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(listSheet, cell, &row); err != nil {
			return fmt.Errorf("export: xlsx row %s: %w", inv.ID, err)
		}
	}
	if n := len(invoices); n > 0 {
		if err := f.SetCellStyle(listSheet, "D2", fmt.Sprintf("D%d", n+1), money); err != nil {
			return err
		}
		if err := f.SetCellStyle(listSheet, "F2", fmt.Sprintf("F%d", n+1), money); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(listSheet, "A", "A", 16)
	_ = f.SetColWidth(listSheet, "B", "B", 12)
	_ = f.SetColWidth(listSheet, "C", "C", 28)
	_ = f.SetColWidth(listSheet, "D", "F", 12)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write xlsx: %w", err)
	}
	return nil
}
