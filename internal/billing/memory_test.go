package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDetectsConflictingCommit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.PutSettings(ctx, CompanySettings{InvoicePrefix: "WC", NextInvoiceSeq: 1})
	}))

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.Settings(ctx)
		require.NoError(t, err)

		// A concurrent writer commits between our read and our commit.
		require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, inner Tx) error {
			cur, err := inner.Settings(ctx)
			if err != nil {
				return err
			}
			cur.NextInvoiceSeq++
			return inner.PutSettings(ctx, cur)
		}))

		s.NextInvoiceSeq = 100
		return tx.PutSettings(ctx, s)
	})
	require.ErrorIs(t, err, ErrTransientConflict)

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.NextInvoiceSeq)
}

func TestInMemoryDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	inv, err := store.CreateInvoice(ctx, Invoice{Status: StatusDraft, CustomerName: "x"})
	require.NoError(t, err)

	err = store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Invoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		cur.Status = StatusFinalized
		if err := tx.PutInvoice(ctx, cur); err != nil {
			return err
		}
		return ErrPreconditionFailed
	})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	got, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
}

func TestInMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	inv, err := store.CreateInvoice(ctx, Invoice{
		Status:    StatusDraft,
		LineItems: []LineItem{{Description: "a", Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	require.NoError(t, err)

	got, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	got.LineItems[0].Description = "mutated"

	again, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.LineItems[0].Description)
}

func TestInMemoryListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	for _, st := range []Status{StatusDraft, StatusPaid, StatusPaid} {
		_, err := store.CreateInvoice(ctx, Invoice{Status: st, CustomerID: "c1"})
		require.NoError(t, err)
	}
	paid, err := store.ListInvoices(ctx, ListFilter{Status: StatusPaid})
	require.NoError(t, err)
	assert.Len(t, paid, 2)

	limited, err := store.ListInvoices(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = store.GetSettings(ctx)
	require.ErrorIs(t, err, ErrConfiguration)
}
