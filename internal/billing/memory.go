package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"invoicedesk.app/internal/ids"
)

// settingsKey is the version-map key of the settings singleton.
const settingsKey = "settings/company"

// InMemory implements Store with optimistic concurrency: transactions read
// snapshots, buffer their writes and commit only if every document they read
// still has the version they saw.
type InMemory struct {
	mu        sync.RWMutex
	invoices  map[string]Invoice
	customers map[string]Customer
	settings  *CompanySettings
	versions  map[string]uint64
}

// NewInMemory creates an empty store with no settings document.
func NewInMemory() *InMemory {
	return &InMemory{
		invoices:  make(map[string]Invoice),
		customers: make(map[string]Customer),
		versions:  make(map[string]uint64),
	}
}

func invoiceKey(id string) string { return "invoices/" + id }

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:    s,
		reads:    make(map[string]uint64),
		invoices: make(map[string]Invoice),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *InMemory) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versions[key] != seen {
			return ErrTransientConflict
		}
	}
	for id, inv := range tx.invoices {
		if _, ok := tx.reads[invoiceKey(id)]; !ok {
			if _, exists := s.invoices[id]; exists {
				return ErrTransientConflict
			}
		}
		s.invoices[id] = inv.Clone()
		s.versions[invoiceKey(id)]++
	}
	if tx.settings != nil {
		cp := *tx.settings
		s.settings = &cp
		s.versions[settingsKey]++
	}
	return nil
}

func (s *InMemory) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *InMemory) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	s.mu.RLock()
	out := make([]Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if !filter.UpdatedAfter.IsZero() && !inv.UpdatedAt.After(filter.UpdatedAfter) {
			continue
		}
		out = append(out, inv.Clone())
	}
	s.mu.RUnlock()

	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Invoice{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemory) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if _, exists := s.invoices[inv.ID]; exists {
		return Invoice{}, ErrPreconditionFailed
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	s.invoices[inv.ID] = inv.Clone()
	s.versions[invoiceKey(inv.ID)]++
	return inv.Clone(), nil
}

func (s *InMemory) GetSettings(ctx context.Context) (CompanySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return CompanySettings{}, ErrConfiguration
	}
	return *s.settings, nil
}

func (s *InMemory) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, exists := s.customers[c.ID]; exists {
		return Customer{}, ErrPreconditionFailed
	}
	s.customers[c.ID] = c
	return c, nil
}

func (s *InMemory) GetCustomer(ctx context.Context, id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemory) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	out := make([]Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memTx records the version of each document at first read and buffers writes.
type memTx struct {
	store    *InMemory
	reads    map[string]uint64
	invoices map[string]Invoice
	settings *CompanySettings
}

func (t *memTx) Settings(ctx context.Context) (CompanySettings, error) {
	if t.settings != nil {
		return *t.settings, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, seen := t.reads[settingsKey]; !seen {
		t.reads[settingsKey] = t.store.versions[settingsKey]
	}
	if t.store.settings == nil {
		return CompanySettings{}, ErrConfiguration
	}
	return *t.store.settings, nil
}

func (t *memTx) Invoice(ctx context.Context, id string) (Invoice, error) {
	if inv, ok := t.invoices[id]; ok {
		return inv.Clone(), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	key := invoiceKey(id)
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.store.versions[key]
	}
	inv, ok := t.store.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv.Clone(), nil
}

func (t *memTx) PutSettings(ctx context.Context, s CompanySettings) error {
	t.settings = &s
	return nil
}

func (t *memTx) PutInvoice(ctx context.Context, inv Invoice) error {
	if inv.ID == "" {
		return ErrInvalidArgument
	}
	t.invoices[inv.ID] = inv.Clone()
	return nil
}
