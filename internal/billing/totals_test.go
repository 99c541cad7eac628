package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name    string
		items   []LineItem
		rate    string
		wantSub string
		wantTax string
		wantTot string
	}{
		{
			name:    "empty",
			rate:    "0.06",
			wantSub: "0", wantTax: "0", wantTot: "0",
		},
		{
			name: "mixed taxable",
			items: []LineItem{
				{Description: "a", Quantity: dec("1"), UnitPrice: dec("100"), Taxable: true},
				{Description: "b", Quantity: dec("1"), UnitPrice: dec("30")},
			},
			rate:    "0.06",
			wantSub: "130", wantTax: "6", wantTot: "136",
		},
		{
			name: "fractional quantity kept at full precision",
			items: []LineItem{
				{Description: "paint", Quantity: dec("2.5"), UnitPrice: dec("19.99"), Taxable: true},
			},
			rate:    "0.06",
			wantSub: "49.975", wantTax: "2.9985", wantTot: "52.9735",
		},
		{
			name: "negative adjustment line",
			items: []LineItem{
				{Description: "labor", Quantity: dec("1"), UnitPrice: dec("200"), Taxable: true},
				{Description: "discount", Quantity: dec("1"), UnitPrice: dec("-50"), Taxable: true},
			},
			rate:    "0.06",
			wantSub: "150", wantTax: "9", wantTot: "159",
		},
		{
			name: "zero rate",
			items: []LineItem{
				{Description: "a", Quantity: dec("3"), UnitPrice: dec("10"), Taxable: true},
			},
			rate:    "0",
			wantSub: "30", wantTax: "0", wantTot: "30",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeTotals(tc.items, dec(tc.rate))
			check := func(field string, got decimal.Decimal, want string) {
				if !got.Equal(dec(want)) {
					t.Fatalf("%s=%s, want %s", field, got, want)
				}
			}
			check("subtotal", got.Subtotal, tc.wantSub)
			check("tax", got.TaxAmount, tc.wantTax)
			check("total", got.Total, tc.wantTot)
			if !got.Total.Equal(got.Subtotal.Add(got.TaxAmount)) {
				t.Fatalf("total %s != subtotal+tax", got.Total)
			}
		})
	}
}

func TestDisplayRoundsToCents(t *testing.T) {
	d := ComputeTotals([]LineItem{{Description: "p", Quantity: dec("2.5"), UnitPrice: dec("19.99"), Taxable: true}}, dec("0.06")).Display()
	if d.Subtotal != "49.98" || d.TaxAmount != "3.00" || d.Total != "52.97" {
		t.Fatalf("unexpected display %+v", d)
	}
	if d.TaxRate != "0.06" {
		t.Fatalf("tax rate = %s", d.TaxRate)
	}
}

func TestReserveInvoiceNo(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		prefix  string
		seq     int64
		want    string
		nextSeq int64
	}{
		{"WC", 1, "WC-2025-00001", 2},
		{"", 0, "WC-2025-00001", 2},
		{"AB", 123456, "AB-2025-123456", 123457},
		{" XY ", 42, "XY-2025-00042", 43},
	}
	for _, tc := range cases {
		s := CompanySettings{InvoicePrefix: tc.prefix, NextInvoiceSeq: tc.seq}
		got, err := ReserveInvoiceNo(&s, now)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if got != tc.want || s.NextInvoiceSeq != tc.nextSeq {
			t.Fatalf("ReserveInvoiceNo(%q,%d)=%s next=%d, want %s next=%d", tc.prefix, tc.seq, got, s.NextInvoiceSeq, tc.want, tc.nextSeq)
		}
		if !s.UpdatedAt.Equal(now) {
			t.Fatalf("updatedAt not set")
		}
	}
	if _, err := ReserveInvoiceNo(nil, now); err != ErrConfiguration {
		t.Fatalf("nil settings: %v", err)
	}
}
