package billing

import "context"

// Store is the document store backing invoices, customers and the company
// settings singleton. Implementations must give RunInTx snapshot reads and
// all-or-nothing writes, and must fail the commit with ErrTransientConflict
// when a document read inside the transaction was modified concurrently.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)

	GetSettings(ctx context.Context) (CompanySettings, error)

	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]Customer, error)
}

// Tx is the view of the store inside RunInTx. Reads return ErrNotFound for
// missing invoices and ErrConfiguration for missing settings.
type Tx interface {
	Settings(ctx context.Context) (CompanySettings, error)
	Invoice(ctx context.Context, id string) (Invoice, error)
	PutSettings(ctx context.Context, s CompanySettings) error
	PutInvoice(ctx context.Context, inv Invoice) error
}
