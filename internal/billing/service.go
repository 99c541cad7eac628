package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoicedesk.app/internal/ids"
	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/obs"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 20 * time.Millisecond
	dateLayout         = "2006-01-02"
)

// Service runs the invoice state machine against a Store: draft editing,
// finalization with numbering, the payment ledger and voiding.
type Service struct {
	store       Store
	now         func() time.Time
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithMaxAttempts bounds how many times a conflicting transaction is run.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the upper bound of the jittered pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		log:         logger.WithComponent("billing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying document store for read-only collaborators
// such as the sheet sync bridge.
func (s *Service) Store() Store { return s.store }

// DraftInput carries the editable fields of a draft invoice.
type DraftInput struct {
	CustomerID            string
	CustomerName          string
	Date                  string
	DueDate               string
	Notes                 string
	CustomerInsuranceType InsuranceType
	PaymentType           PaymentType
	WhosPaying            Payer
	LineItems             []LineItem
}

// FinalizeResult is returned by Finalize.
type FinalizeResult struct {
	InvoiceNo string `json:"invoiceNo"`
	Totals    Totals `json:"totals"`
}

// PaymentInput is a request to append a payment.
type PaymentInput struct {
	InvoiceID     string
	Amount        decimal.Decimal
	Method        PaymentMethod
	Date          string
	Notes         string
	RecordedByUID string
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	NewBalance decimal.Decimal `json:"newBalance"`
	NewStatus  Status          `json:"newStatus"`
}

// SettingsInput updates the company profile. NextInvoiceSeq is honored only
// when the settings document is created.
type SettingsInput struct {
	InvoicePrefix  string
	NextInvoiceSeq int64
	DefaultTaxRate *decimal.Decimal
	LegalName      string
	Phone          string
	Email          string
	Address        Address
	Terms          string
}

// CreateDraft stores a new draft invoice with preview totals.
func (s *Service) CreateDraft(ctx context.Context, uid string, in DraftInput) (Invoice, error) {
	if strings.TrimSpace(uid) == "" {
		return Invoice{}, ErrUnauthenticated
	}
	if err := s.validateDraft(ctx, &in); err != nil {
		return Invoice{}, err
	}
	now := s.now()
	inv := Invoice{ID: ids.NewAt(now), Status: StatusDraft, CreatedByUID: uid, CreatedAt: now, UpdatedAt: now}
	applyDraft(&inv, in)
	s.previewInto(ctx, &inv)

	created, err := s.store.CreateInvoice(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	s.log.Info().Str("invoice_id", created.ID).Str("uid", uid).Msg("draft created")
	return created, nil
}

// UpdateDraft replaces the editable fields of a draft. Non-draft invoices are
// immutable.
func (s *Service) UpdateDraft(ctx context.Context, id string, in DraftInput) (Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvalidArgument)
	}
	if err := s.validateDraft(ctx, &in); err != nil {
		return Invoice{}, err
	}
	rate := s.currentTaxRate(ctx)

	var out Invoice
	err := s.runTx(ctx, "update_draft", func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: invoice %s is %s", ErrPreconditionFailed, id, inv.Status)
		}
		applyDraft(&inv, in)
		totals := ComputeTotals(inv.LineItems, rate)
		inv.Totals = &totals
		inv.Balance = openBalance(totals)
		inv.UpdatedAt = s.now()
		if err := tx.PutInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

// Preview returns the totals the invoice would be frozen with if finalized
// now. Finalized invoices return their frozen totals.
func (s *Service) Preview(ctx context.Context, id string) (Totals, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return Totals{}, err
	}
	if inv.Status != StatusDraft && inv.Totals != nil {
		return *inv.Totals, nil
	}
	return ComputeTotals(inv.LineItems, s.currentTaxRate(ctx)), nil
}

// Finalize moves a draft to finalized: totals are computed and frozen, the
// next invoice number is reserved from settings and the balance is opened,
// all in one transaction with the settings increment.
func (s *Service) Finalize(ctx context.Context, id string) (FinalizeResult, error) {
	if strings.TrimSpace(id) == "" {
		return FinalizeResult{}, fmt.Errorf("%w: invoice id is required", ErrInvalidArgument)
	}

	var res FinalizeResult
	err := s.runTx(ctx, "finalize", func(ctx context.Context, tx Tx) error {
		settings, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		inv, err := tx.Invoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: invoice %s is already %s", ErrPreconditionFailed, id, inv.Status)
		}

		now := s.now()
		totals := ComputeTotals(inv.LineItems, settings.DefaultTaxRate)
		invoiceNo, err := ReserveInvoiceNo(&settings, now)
		if err != nil {
			return err
		}

		inv.InvoiceNo = invoiceNo
		inv.Status = StatusFinalized
		inv.Totals = &totals
		inv.Balance = openBalance(totals)
		inv.Payments = []Payment{}
		inv.UpdatedAt = now

		if err := tx.PutInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.PutSettings(ctx, settings); err != nil {
			return err
		}
		res = FinalizeResult{InvoiceNo: invoiceNo, Totals: totals}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	obs.InvoicesFinalized.Inc()
	s.log.Info().
		Str("invoice_id", id).
		Str("invoice_no", res.InvoiceNo).
		Str("total", res.Totals.Total.String()).
		Msg("invoice finalized")
	return res, nil
}

// RecordPayment appends a payment and recomputes balance and status.
// Overpayment clamps the balance at zero; the excess is not carried.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	if strings.TrimSpace(in.RecordedByUID) == "" {
		return PaymentResult{}, ErrUnauthenticated
	}
	if strings.TrimSpace(in.InvoiceID) == "" {
		return PaymentResult{}, fmt.Errorf("%w: invoice id is required", ErrInvalidArgument)
	}
	if !in.Amount.IsPositive() {
		return PaymentResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	if !in.Method.Valid() {
		return PaymentResult{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidArgument, in.Method)
	}
	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = s.now().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return PaymentResult{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidArgument)
	}

	var (
		res    PaymentResult
		excess decimal.Decimal
	)
	err := s.runTx(ctx, "record_payment", func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.Payable() {
			return fmt.Errorf("%w: invoice %s is %s", ErrPreconditionFailed, in.InvoiceID, inv.Status)
		}

		now := s.now()
		current := inv.Balance
		newBalance := current.Sub(in.Amount)
		excess = decimal.Zero
		if newBalance.IsNegative() {
			excess = newBalance.Neg()
			newBalance = decimal.Zero
		}

		status := inv.Status
		switch {
		case newBalance.IsZero():
			status = StatusPaid
		case newBalance.LessThan(current):
			status = StatusPartial
		}

		inv.Payments = append(inv.Payments, Payment{
			Amount:        in.Amount,
			Method:        in.Method,
			Date:          date,
			Notes:         strings.TrimSpace(in.Notes),
			RecordedAt:    now,
			RecordedByUID: in.RecordedByUID,
		})
		inv.Balance = newBalance
		inv.Status = status
		inv.UpdatedAt = now

		if err := tx.PutInvoice(ctx, inv); err != nil {
			return err
		}
		res = PaymentResult{NewBalance: newBalance, NewStatus: status}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	obs.PaymentsRecorded.WithLabelValues(string(in.Method)).Inc()
	ev := s.log.Info()
	if excess.IsPositive() {
		ev = s.log.Warn().Str("excess", excess.String())
	}
	ev.Str("invoice_id", in.InvoiceID).
		Str("amount", in.Amount.String()).
		Str("balance", res.NewBalance.String()).
		Str("status", string(res.NewStatus)).
		Msg("payment recorded")
	return res, nil
}

// Void cancels an invoice that has not been fully paid. Payments already
// recorded stay on the document.
func (s *Service) Void(ctx context.Context, id string) (Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvalidArgument)
	}
	var out Invoice
	err := s.runTx(ctx, "void", func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusPaid || inv.Status == StatusVoid {
			return fmt.Errorf("%w: invoice %s is %s", ErrPreconditionFailed, id, inv.Status)
		}
		inv.Status = StatusVoid
		inv.UpdatedAt = s.now()
		if err := tx.PutInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.log.Info().Str("invoice_id", id).Msg("invoice voided")
	return out, nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// ListInvoices lists invoices, newest first.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, filter.Status)
	}
	return s.store.ListInvoices(ctx, filter)
}

// Settings returns the company settings or ErrConfiguration.
func (s *Service) Settings(ctx context.Context) (CompanySettings, error) {
	return s.store.GetSettings(ctx)
}

// SaveSettings creates the settings document on first use and updates the
// profile afterwards. The invoice counter is never rewound by this call.
func (s *Service) SaveSettings(ctx context.Context, in SettingsInput) (CompanySettings, error) {
	if in.DefaultTaxRate != nil {
		r := *in.DefaultTaxRate
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			return CompanySettings{}, fmt.Errorf("%w: defaultTaxRate must be within [0,1]", ErrInvalidArgument)
		}
	}
	if in.NextInvoiceSeq < 0 {
		return CompanySettings{}, fmt.Errorf("%w: nextInvoiceSeq must be >= 1", ErrInvalidArgument)
	}

	var out CompanySettings
	err := s.runTx(ctx, "save_settings", func(ctx context.Context, tx Tx) error {
		cur, err := tx.Settings(ctx)
		switch {
		case errors.Is(err, ErrConfiguration):
			cur = CompanySettings{
				InvoicePrefix:  DefaultInvoicePrefix,
				NextInvoiceSeq: 1,
				DefaultTaxRate: DefaultTaxRate,
			}
			if in.NextInvoiceSeq > 0 {
				cur.NextInvoiceSeq = in.NextInvoiceSeq
			}
		case err != nil:
			return err
		}

		if p := strings.TrimSpace(in.InvoicePrefix); p != "" {
			cur.InvoicePrefix = p
		}
		if in.DefaultTaxRate != nil {
			cur.DefaultTaxRate = *in.DefaultTaxRate
		}
		cur.LegalName = strings.TrimSpace(in.LegalName)
		cur.Phone = strings.TrimSpace(in.Phone)
		cur.Email = strings.TrimSpace(in.Email)
		cur.Address = in.Address
		cur.Terms = in.Terms
		cur.UpdatedAt = s.now()

		if err := tx.PutSettings(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return CompanySettings{}, err
	}
	return out, nil
}

// CreateCustomer stores a new customer.
func (s *Service) CreateCustomer(ctx context.Context, uid string, c Customer) (Customer, error) {
	if strings.TrimSpace(uid) == "" {
		return Customer{}, ErrUnauthenticated
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Customer{}, fmt.Errorf("%w: customer name is required", ErrInvalidArgument)
	}
	now := s.now()
	c.ID = ids.NewAt(now)
	c.CreatedByUID = uid
	c.CreatedAt = now
	c.UpdatedAt = now
	return s.store.CreateCustomer(ctx, c)
}

// GetCustomer loads one customer.
func (s *Service) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

// ListCustomers lists customers by name.
func (s *Service) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	return s.store.ListCustomers(ctx, limit)
}

// runTx retries fn while the store reports ErrTransientConflict and turns an
// exhausted budget into ErrInternal.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.store.RunInTx(ctx, fn)
		if !errors.Is(err, ErrTransientConflict) {
			return err
		}
		obs.TxRetries.WithLabelValues(op).Inc()
		s.log.Debug().Str("op", op).Int("attempt", attempt).Msg("transaction conflict")
		if attempt == s.maxAttempts || s.backoff <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrInternal, op, ctx.Err())
		case <-time.After(rand.N(s.backoff) + time.Millisecond):
		}
	}
	s.log.Error().Str("op", op).Int("attempts", s.maxAttempts).Msg("transaction retries exhausted")
	return fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrInternal, op, s.maxAttempts, err)
}

func (s *Service) validateDraft(ctx context.Context, in *DraftInput) error {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.CustomerName == "" && in.CustomerID != "" {
		c, err := s.store.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: customer %s does not exist", ErrInvalidArgument, in.CustomerID)
			}
			return err
		}
		in.CustomerName = c.Name
	}
	if in.CustomerName == "" {
		return fmt.Errorf("%w: customerName or customerId is required", ErrInvalidArgument)
	}
	for _, d := range []struct{ name, val string }{{"date", in.Date}, {"dueDate", in.DueDate}} {
		if d.val == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d.val); err != nil {
			return fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidArgument, d.name)
		}
	}
	if in.CustomerInsuranceType == "" {
		in.CustomerInsuranceType = InsuranceCustomer
	}
	if in.PaymentType == "" {
		in.PaymentType = PaymentTypeCash
	}
	if in.WhosPaying == "" {
		in.WhosPaying = PayerCustomerWalkIn
	}
	if !in.CustomerInsuranceType.Valid() {
		return fmt.Errorf("%w: unknown customerInsuranceType %q", ErrInvalidArgument, in.CustomerInsuranceType)
	}
	if !in.PaymentType.Valid() {
		return fmt.Errorf("%w: unknown paymentType %q", ErrInvalidArgument, in.PaymentType)
	}
	if !in.WhosPaying.Valid() {
		return fmt.Errorf("%w: unknown whosPaying %q", ErrInvalidArgument, in.WhosPaying)
	}
	for i, li := range in.LineItems {
		if strings.TrimSpace(li.Description) == "" {
			return fmt.Errorf("%w: lineItems[%d].description is required", ErrInvalidArgument, i)
		}
	}
	return nil
}

func applyDraft(inv *Invoice, in DraftInput) {
	inv.CustomerID = in.CustomerID
	inv.CustomerName = in.CustomerName
	inv.Date = in.Date
	inv.DueDate = in.DueDate
	inv.Notes = strings.TrimSpace(in.Notes)
	inv.CustomerInsuranceType = in.CustomerInsuranceType
	inv.PaymentType = in.PaymentType
	inv.WhosPaying = in.WhosPaying
	inv.LineItems = append([]LineItem(nil), in.LineItems...)
	if inv.LineItems == nil {
		inv.LineItems = []LineItem{}
	}
	if inv.Payments == nil {
		inv.Payments = []Payment{}
	}
}

// openBalance is the amount due on a fresh invoice. Adjustment lines can push
// the total below zero; the balance never goes negative.
func openBalance(t Totals) decimal.Decimal {
	return decimal.Max(decimal.Zero, t.Total)
}

func (s *Service) previewInto(ctx context.Context, inv *Invoice) {
	totals := ComputeTotals(inv.LineItems, s.currentTaxRate(ctx))
	inv.Totals = &totals
	inv.Balance = openBalance(totals)
}

func (s *Service) currentTaxRate(ctx context.Context) decimal.Decimal {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		if !errors.Is(err, ErrConfiguration) {
			s.log.Warn().Err(err).Msg("load settings for preview; using default tax rate")
		}
		return DefaultTaxRate
	}
	return settings.DefaultTaxRate
}
