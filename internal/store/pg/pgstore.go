package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/ids"
)

const (
	pgErrUniqueViolation      = "23505"
	pgErrCheckViolation       = "23514"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
)

// Store implements billing.Store on PostgreSQL. Transactions run at
// SERIALIZABLE and lock the rows they read, so a concurrent finalize either
// waits or fails with a serialization error that maps to
// billing.ErrTransientConflict.
type Store struct {
	db *sql.DB
}

var _ billing.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used with sqlmock in tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const invoiceColumns = `id, coalesce(invoice_no,''), status, customer_id, customer_name, invoice_date, due_date, notes,
	customer_insurance_type, payment_type, whos_paying, line_items, totals, balance, payments,
	created_by_uid, created_at, updated_at`

const settingsColumns = `invoice_prefix, next_invoice_seq, default_tax_rate, legal_name, phone, email,
	address, terms, updated_at`

const customerColumns = `id, name, email, phone, address, insurance_company, policy_number,
	created_by_uid, created_at, updated_at`

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (billing.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `select `+invoiceColumns+` from invoices where id=$1`, id)
	return scanInvoice(row)
}

func (s *Store) ListInvoices(ctx context.Context, filter billing.ListFilter) ([]billing.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if !filter.UpdatedAfter.IsZero() {
		args = append(args, filter.UpdatedAfter)
		where = append(where, fmt.Sprintf("updated_at > $%d", len(args)))
	}
	query := `select ` + invoiceColumns + ` from invoices`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` order by created_at desc, id desc limit $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` offset $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	if inv.LineItems == nil {
		inv.LineItems = []billing.LineItem{}
	}
	if inv.Payments == nil {
		inv.Payments = []billing.Payment{}
	}
	args, err := invoiceArgs(inv)
	if err != nil {
		return billing.Invoice{}, err
	}
	if _, err := s.db.ExecContext(ctx, insertInvoice, args...); err != nil {
		return billing.Invoice{}, mapErr(err)
	}
	return inv, nil
}

func (s *Store) GetSettings(ctx context.Context) (billing.CompanySettings, error) {
	row := s.db.QueryRowContext(ctx, `select `+settingsColumns+` from company_settings where id=1`)
	return scanSettings(row)
}

func (s *Store) CreateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	var addr []byte
	if c.Address != nil {
		raw, err := json.Marshal(c.Address)
		if err != nil {
			return billing.Customer{}, fmt.Errorf("encode address: %w", err)
		}
		addr = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into customers(id, name, email, phone, address, insurance_company, policy_number,
			created_by_uid, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.Name, c.Email, c.Phone, addr, c.InsuranceCompany, c.PolicyNumber,
		c.CreatedByUID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return billing.Customer{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (billing.Customer, error) {
	row := s.db.QueryRowContext(ctx, `select `+customerColumns+` from customers where id=$1`, id)
	return scanCustomer(row)
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]billing.Customer, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `select `+customerColumns+` from customers order by name, id limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []billing.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// pgTx is the billing.Tx view over one serializable transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Settings(ctx context.Context) (billing.CompanySettings, error) {
	row := t.tx.QueryRowContext(ctx, `select `+settingsColumns+` from company_settings where id=1 for update`)
	return scanSettings(row)
}

func (t *pgTx) Invoice(ctx context.Context, id string) (billing.Invoice, error) {
	row := t.tx.QueryRowContext(ctx, `select `+invoiceColumns+` from invoices where id=$1 for update`, id)
	return scanInvoice(row)
}

func (t *pgTx) PutSettings(ctx context.Context, st billing.CompanySettings) error {
	addr, err := json.Marshal(st.Address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into company_settings(id, invoice_prefix, next_invoice_seq, default_tax_rate, legal_name,
			phone, email, address, terms, updated_at)
		values (1,$1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (id) do update set
			invoice_prefix = excluded.invoice_prefix,
			next_invoice_seq = excluded.next_invoice_seq,
			default_tax_rate = excluded.default_tax_rate,
			legal_name = excluded.legal_name,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			terms = excluded.terms,
			updated_at = excluded.updated_at
	`, st.InvoicePrefix, st.NextInvoiceSeq, st.DefaultTaxRate, st.LegalName,
		st.Phone, st.Email, addr, st.Terms, st.UpdatedAt)
	return err
}

func (t *pgTx) PutInvoice(ctx context.Context, inv billing.Invoice) error {
	if inv.ID == "" {
		return billing.ErrInvalidArgument
	}
	args, err := invoiceArgs(inv)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, insertInvoice+`
		on conflict (id) do update set
			invoice_no = excluded.invoice_no,
			status = excluded.status,
			customer_id = excluded.customer_id,
			customer_name = excluded.customer_name,
			invoice_date = excluded.invoice_date,
			due_date = excluded.due_date,
			notes = excluded.notes,
			customer_insurance_type = excluded.customer_insurance_type,
			payment_type = excluded.payment_type,
			whos_paying = excluded.whos_paying,
			line_items = excluded.line_items,
			totals = excluded.totals,
			balance = excluded.balance,
			payments = excluded.payments,
			updated_at = excluded.updated_at`, args...)
	return err
}

const insertInvoice = `
	insert into invoices(id, invoice_no, status, customer_id, customer_name, invoice_date, due_date, notes,
		customer_insurance_type, payment_type, whos_paying, line_items, totals, balance, payments,
		created_by_uid, created_at, updated_at)
	values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

func invoiceArgs(inv billing.Invoice) ([]any, error) {
	items := inv.LineItems
	if items == nil {
		items = []billing.LineItem{}
	}
	payments := inv.Payments
	if payments == nil {
		payments = []billing.Payment{}
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}
	rawPayments, err := json.Marshal(payments)
	if err != nil {
		return nil, fmt.Errorf("encode payments: %w", err)
	}
	var rawTotals []byte
	if inv.Totals != nil {
		if rawTotals, err = json.Marshal(inv.Totals); err != nil {
			return nil, fmt.Errorf("encode totals: %w", err)
		}
	}
	var invoiceNo sql.NullString
	if inv.InvoiceNo != "" {
		invoiceNo = sql.NullString{String: inv.InvoiceNo, Valid: true}
	}
	return []any{
		inv.ID, invoiceNo, string(inv.Status), inv.CustomerID, inv.CustomerName, inv.Date, inv.DueDate, inv.Notes,
		string(inv.CustomerInsuranceType), string(inv.PaymentType), string(inv.WhosPaying),
		rawItems, rawTotals, inv.Balance, rawPayments,
		inv.CreatedByUID, inv.CreatedAt, inv.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (billing.Invoice, error) {
	var (
		inv                              billing.Invoice
		status, insType, payType, payer  string
		rawItems, rawTotals, rawPayments []byte
	)
	err := row.Scan(&inv.ID, &inv.InvoiceNo, &status, &inv.CustomerID, &inv.CustomerName, &inv.Date, &inv.DueDate,
		&inv.Notes, &insType, &payType, &payer, &rawItems, &rawTotals, &inv.Balance, &rawPayments,
		&inv.CreatedByUID, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, billing.ErrNotFound
	}
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.Status = billing.Status(status)
	inv.CustomerInsuranceType = billing.InsuranceType(insType)
	inv.PaymentType = billing.PaymentType(payType)
	inv.WhosPaying = billing.Payer(payer)

	inv.LineItems = []billing.LineItem{}
	if len(rawItems) > 0 {
		if err := json.Unmarshal(rawItems, &inv.LineItems); err != nil {
			return billing.Invoice{}, fmt.Errorf("decode line items: %w", err)
		}
	}
	inv.Payments = []billing.Payment{}
	if len(rawPayments) > 0 {
		if err := json.Unmarshal(rawPayments, &inv.Payments); err != nil {
			return billing.Invoice{}, fmt.Errorf("decode payments: %w", err)
		}
	}
	if len(rawTotals) > 0 && string(rawTotals) != "null" {
		var totals billing.Totals
		if err := json.Unmarshal(rawTotals, &totals); err != nil {
			return billing.Invoice{}, fmt.Errorf("decode totals: %w", err)
		}
		inv.Totals = &totals
	}
	return inv, nil
}

func scanSettings(row rowScanner) (billing.CompanySettings, error) {
	var (
		st      billing.CompanySettings
		rawAddr []byte
	)
	err := row.Scan(&st.InvoicePrefix, &st.NextInvoiceSeq, &st.DefaultTaxRate, &st.LegalName,
		&st.Phone, &st.Email, &rawAddr, &st.Terms, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.CompanySettings{}, billing.ErrConfiguration
	}
	if err != nil {
		return billing.CompanySettings{}, err
	}
	if len(rawAddr) > 0 {
		if err := json.Unmarshal(rawAddr, &st.Address); err != nil {
			return billing.CompanySettings{}, fmt.Errorf("decode address: %w", err)
		}
	}
	return st, nil
}

func scanCustomer(row rowScanner) (billing.Customer, error) {
	var (
		c       billing.Customer
		rawAddr []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &rawAddr, &c.InsuranceCompany, &c.PolicyNumber,
		&c.CreatedByUID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Customer{}, billing.ErrNotFound
	}
	if err != nil {
		return billing.Customer{}, err
	}
	if len(rawAddr) > 0 && string(rawAddr) != "null" {
		var addr billing.Address
		if err := json.Unmarshal(rawAddr, &addr); err != nil {
			return billing.Customer{}, fmt.Errorf("decode address: %w", err)
		}
		c.Address = &addr
	}
	return c, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapErr folds retryable PostgreSQL failures into billing.ErrTransientConflict
// duplicate keys into billing.ErrPreconditionFailed and check constraints
// into billing.ErrInvalidArgument.
func mapErr(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected:
		return fmt.Errorf("%w: %s", billing.ErrTransientConflict, pgErr.Message)
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", billing.ErrPreconditionFailed, pgErr.Detail)
	case pgErrCheckViolation:
		return fmt.Errorf("%w: %s", billing.ErrInvalidArgument, pgErr.ConstraintName)
	}
	return err
}
