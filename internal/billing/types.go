package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusVoid      Status = "void"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusFinalized, StatusPartial, StatusPaid, StatusVoid:
		return true
	}
	return false
}

// Payable reports whether the payment ledger accepts payments in this state.
func (s Status) Payable() bool { return s == StatusFinalized || s == StatusPartial }

// PaymentMethod is how a payment was tendered.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCheck        PaymentMethod = "check"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodInsurance    PaymentMethod = "insurance"
	MethodZelle        PaymentMethod = "zelle"
	MethodACH          PaymentMethod = "ach"
	MethodDebit        PaymentMethod = "debit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodCreditCard, MethodBankTransfer,
		MethodInsurance, MethodZelle, MethodACH, MethodDebit:
		return true
	}
	return false
}

// InsuranceType tells whether the invoice is billed to the customer or an insurer.
type InsuranceType string

const (
	InsuranceCustomer  InsuranceType = "customer"
	InsuranceInsurance InsuranceType = "insurance"
	InsuranceOther     InsuranceType = "other"
)

func (t InsuranceType) Valid() bool {
	switch t {
	case InsuranceCustomer, InsuranceInsurance, InsuranceOther:
		return true
	}
	return false
}

// PaymentType is the expected tender recorded on the invoice for bookkeeping.
type PaymentType string

const (
	PaymentTypeCash   PaymentType = "cash"
	PaymentTypeCheck  PaymentType = "check"
	PaymentTypeZelle  PaymentType = "zelle"
	PaymentTypeACH    PaymentType = "ach"
	PaymentTypeCredit PaymentType = "credit"
	PaymentTypeDebit  PaymentType = "debit"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeCash, PaymentTypeCheck, PaymentTypeZelle, PaymentTypeACH,
		PaymentTypeCredit, PaymentTypeDebit:
		return true
	}
	return false
}

// Payer identifies who is paying the invoice.
type Payer string

const (
	PayerDeductible     Payer = "deductible"
	PayerDRPPayment     Payer = "drp_payment"
	PayerCustomerWalkIn Payer = "customer_walk_in"
	PayerDealerRepair   Payer = "dealer_repair"
	PayerOther          Payer = "other"
)

func (p Payer) Valid() bool {
	switch p {
	case PayerDeductible, PayerDRPPayment, PayerCustomerWalkIn, PayerDealerRepair, PayerOther:
		return true
	}
	return false
}

// Address is a postal address used by settings and customers.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

// CompanySettings is the singleton settings/company document. NextInvoiceSeq
// is only advanced by finalization.
type CompanySettings struct {
	InvoicePrefix  string          `json:"invoicePrefix"`
	NextInvoiceSeq int64           `json:"nextInvoiceSeq"`
	DefaultTaxRate decimal.Decimal `json:"defaultTaxRate"`
	LegalName      string          `json:"legalName,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Email          string          `json:"email,omitempty"`
	Address        Address         `json:"address"`
	Terms          string          `json:"terms,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// LineItem is one billable line. Negative quantity or price is an adjustment.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Taxable     bool            `json:"taxable"`
}

// Amount is quantity × unit price at full precision.
func (li LineItem) Amount() decimal.Decimal { return li.Quantity.Mul(li.UnitPrice) }

// Totals are frozen at finalization. Values are stored unrounded.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxableAmount decimal.Decimal `json:"taxableAmount"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	Total         decimal.Decimal `json:"total"`
}

// Payment is an append-only ledger entry.
type Payment struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Date          string          `json:"date"`
	Notes         string          `json:"notes,omitempty"`
	RecordedAt    time.Time       `json:"recordedAt"`
	RecordedByUID string          `json:"recordedByUid"`
}

// Invoice is the invoices/{id} document.
type Invoice struct {
	ID                    string        `json:"id"`
	InvoiceNo             string        `json:"invoiceNo,omitempty"`
	Status                Status        `json:"status"`
	CustomerID            string        `json:"customerId,omitempty"`
	CustomerName          string        `json:"customerName"`
	Date                  string        `json:"date,omitempty"`
	DueDate               string        `json:"dueDate,omitempty"`
	Notes                 string        `json:"notes,omitempty"`
	CustomerInsuranceType InsuranceType `json:"customerInsuranceType,omitempty"`
	PaymentType           PaymentType   `json:"paymentType,omitempty"`
	WhosPaying            Payer         `json:"whosPaying,omitempty"`

	LineItems []LineItem      `json:"lineItems"`
	Totals    *Totals         `json:"totals,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Payments  []Payment       `json:"payments"`

	CreatedByUID string    `json:"createdByUid,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Paid returns the sum of all recorded payment amounts.
func (inv Invoice) Paid() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range inv.Payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// Clone returns a deep copy so callers can mutate slices safely.
func (inv Invoice) Clone() Invoice {
	out := inv
	if inv.LineItems != nil {
		out.LineItems = append([]LineItem(nil), inv.LineItems...)
	}
	if inv.Payments != nil {
		out.Payments = append([]Payment(nil), inv.Payments...)
	}
	if inv.Totals != nil {
		t := *inv.Totals
		out.Totals = &t
	}
	return out
}

// Customer is the customers/{id} document.
type Customer struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Address          *Address  `json:"address,omitempty"`
	InsuranceCompany string    `json:"insuranceCompany,omitempty"`
	PolicyNumber     string    `json:"policyNumber,omitempty"`
	CreatedByUID     string    `json:"createdByUid,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ListFilter narrows ListInvoices. Zero values mean "no filter".
type ListFilter struct {
	Status       Status
	CustomerID   string
	UpdatedAfter time.Time
	Limit        int
	Offset       int
}
