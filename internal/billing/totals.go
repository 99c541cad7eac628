package billing

import "github.com/shopspring/decimal"

// DefaultTaxRate applies when settings are created without an explicit rate
// (Michigan sales tax).
var DefaultTaxRate = decimal.RequireFromString("0.06")

// ComputeTotals derives invoice totals from line items. It is used for draft
// previews and at finalization, so the last preview always matches the
// frozen totals when nothing changed in between.
func ComputeTotals(items []LineItem, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	taxable := decimal.Zero
	for _, item := range items {
		line := item.Amount()
		subtotal = subtotal.Add(line)
		if item.Taxable {
			taxable = taxable.Add(line)
		}
	}
	tax := taxable.Mul(taxRate)
	return Totals{
		Subtotal:      subtotal,
		TaxableAmount: taxable,
		TaxAmount:     tax,
		TaxRate:       taxRate,
		Total:         subtotal.Add(tax),
	}
}

// DisplayTotals is Totals rounded to cents for presentation.
type DisplayTotals struct {
	Subtotal      string `json:"subtotal"`
	TaxableAmount string `json:"taxableAmount"`
	TaxAmount     string `json:"taxAmount"`
	TaxRate       string `json:"taxRate"`
	Total         string `json:"total"`
}

// Display rounds every money field to two decimals. The tax rate is shown
// as stored.
func (t Totals) Display() DisplayTotals {
	return DisplayTotals{
		Subtotal:      Money(t.Subtotal),
		TaxableAmount: Money(t.TaxableAmount),
		TaxAmount:     Money(t.TaxAmount),
		TaxRate:       t.TaxRate.String(),
		Total:         Money(t.Total),
	}
}

// Money formats an amount at currency precision.
func Money(d decimal.Decimal) string { return d.StringFixed(2) }
