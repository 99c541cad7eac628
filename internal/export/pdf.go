package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"invoicedesk.app/internal/billing"
)

// WriteInvoicePDF renders one invoice on a US Letter page. Drafts are
// stamped DRAFT and show preview totals computed at the settings tax rate.
func WriteInvoicePDF(w io.Writer, inv billing.Invoice, settings billing.CompanySettings) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle(title(inv), true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 30

	// Header
	pdf.SetFont("Helvetica", "B", 16)
	name := settings.LegalName
	if name == "" {
		name = "Invoice"
	}
	pdf.CellFormat(contentW/2, 8, tr(name), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(contentW/2, 8, tr(title(inv)), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, line := range companyLines(settings) {
		pdf.CellFormat(contentW, 4.5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// Bill to / dates
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(contentW/2, 6, "Bill To", "", 0, "L", false, 0, "")
	pdf.CellFormat(contentW/2, 6, "Status: "+strings.ToUpper(string(inv.Status)), "", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(contentW/2, 5, tr(inv.CustomerName), "", 0, "L", false, 0, "")
	pdf.CellFormat(contentW/2, 5, "Date: "+inv.Date, "", 1, "R", false, 0, "")
	if inv.DueDate != "" {
		pdf.CellFormat(contentW, 5, "Due: "+inv.DueDate, "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	// Line items
	descW, qtyW, priceW, taxW, amtW := contentW*0.46, contentW*0.12, contentW*0.16, contentW*0.08, contentW*0.18
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(descW, 7, "Description", "B", 0, "L", true, 0, "")
	pdf.CellFormat(qtyW, 7, "Qty", "B", 0, "R", true, 0, "")
	pdf.CellFormat(priceW, 7, "Unit Price", "B", 0, "R", true, 0, "")
	pdf.CellFormat(taxW, 7, "Tax", "B", 0, "C", true, 0, "")
	pdf.CellFormat(amtW, 7, "Amount", "B", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, li := range inv.LineItems {
		taxable := ""
		if li.Taxable {
			taxable = "T"
		}
		pdf.CellFormat(descW, 6, tr(truncate(li.Description, 60)), "", 0, "L", false, 0, "")
		pdf.CellFormat(qtyW, 6, li.Quantity.String(), "", 0, "R", false, 0, "")
		pdf.CellFormat(priceW, 6, "$"+billing.Money(li.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(taxW, 6, taxable, "", 0, "C", false, 0, "")
		pdf.CellFormat(amtW, 6, "$"+billing.Money(li.Amount()), "", 1, "R", false, 0, "")
	}
	pdf.Line(15, pdf.GetY(), pageW-15, pdf.GetY())
	pdf.Ln(2)

	// Totals
	totals := billing.ComputeTotals(inv.LineItems, settings.DefaultTaxRate)
	if inv.Status != billing.StatusDraft && inv.Totals != nil {
		totals = *inv.Totals
	}
	d := totals.Display()
	labelW := contentW - amtW
	totalLine := func(label, value string, style string) {
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(labelW, 6, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(amtW, 6, value, "", 1, "R", false, 0, "")
	}
	totalLine("Subtotal", "$"+d.Subtotal, "")
	totalLine(fmt.Sprintf("Tax (%s on $%s)", percent(totals), d.TaxableAmount), "$"+d.TaxAmount, "")
	totalLine("Total", "$"+d.Total, "B")
	if len(inv.Payments) > 0 {
		totalLine("Paid", "$"+billing.Money(inv.Paid()), "")
	}
	totalLine("Balance Due", "$"+billing.Money(inv.Balance), "B")

	// Payments
	if len(inv.Payments) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(contentW, 6, "Payments", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, p := range inv.Payments {
			pdf.CellFormat(contentW*0.25, 5, p.Date, "", 0, "L", false, 0, "")
			pdf.CellFormat(contentW*0.45, 5, tr(methodLabel(p.Method)), "", 0, "L", false, 0, "")
			pdf.CellFormat(contentW*0.30, 5, "$"+billing.Money(p.Amount), "", 1, "R", false, 0, "")
		}
	}

	if inv.Notes != "" || settings.Terms != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "", 9)
		if inv.Notes != "" {
			pdf.MultiCell(contentW, 4.5, tr("Notes: "+inv.Notes), "", "L", false)
		}
		if settings.Terms != "" {
			pdf.SetFont("Helvetica", "I", 8)
			pdf.MultiCell(contentW, 4, tr(settings.Terms), "", "L", false)
		}
	}

	if inv.Status == billing.StatusDraft || inv.Status == billing.StatusVoid {
		pdf.SetFont("Helvetica", "B", 60)
		pdf.SetTextColor(220, 220, 220)
		pdf.TransformBegin()
		pdf.TransformRotate(35, pageW/2, 140)
		pdf.Text(pageW/2-45, 140, strings.ToUpper(string(inv.Status)))
		pdf.TransformEnd()
		pdf.SetTextColor(0, 0, 0)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export: write pdf: %w", err)
	}
	return nil
}

func title(inv billing.Invoice) string {
	if inv.InvoiceNo == "" {
		return "Draft Invoice"
	}
	return "Invoice " + inv.InvoiceNo
}

func companyLines(s billing.CompanySettings) []string {
	var out []string
	if s.Address.Street != "" {
		out = append(out, s.Address.Street)
	}
	city := strings.TrimSpace(strings.Join(nonEmpty(s.Address.City, s.Address.State, s.Address.ZipCode), " "))
	if city != "" {
		out = append(out, city)
	}
	if contact := strings.Join(nonEmpty(s.Phone, s.Email), "  |  "); contact != "" {
		out = append(out, contact)
	}
	return out
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func percent(t billing.Totals) string {
	return t.TaxRate.Shift(2).String() + "%"
}

func methodLabel(m billing.PaymentMethod) string {
	words := strings.Split(string(m), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "..."
}
