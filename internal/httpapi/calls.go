package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"invoicedesk.app/internal/audit"
	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/billing"
)

type finalizeRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required,max=64"`
}

type recordPaymentRequest struct {
	InvoiceID string                `json:"invoiceId" validate:"required,max=64"`
	Amount    decimal.Decimal       `json:"amount" validate:"gt=0"`
	Method    billing.PaymentMethod `json:"method" validate:"required,oneof=cash check credit_card bank_transfer insurance zelle ach debit"`
	Date      string                `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Notes     string                `json:"notes" validate:"max=1000"`
}

// callableUID enforces that a callable runs with an authenticated caller.
func callableUID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := auth.UIDFromContext(r.Context())
	if strings.TrimSpace(uid) == "" {
		writeCallableError(w, r, http.StatusUnauthorized, billing.CodeUnauthenticated, "authentication required")
		return "", false
	}
	return uid, true
}

func (a *API) handleFinalizeCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := callableUID(w, r); !ok {
		return
	}
	var req finalizeRequest
	if err := decodeValid(w, r, &req); err != nil {
		handleCallableError(w, r, err)
		return
	}

	res, err := a.billing.Finalize(r.Context(), req.InvoiceID)
	if err != nil {
		handleCallableError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invoice.finalized", map[string]any{
		"invoice_id": req.InvoiceID,
		"invoice_no": res.InvoiceNo,
		"total":      res.Totals.Total.String(),
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRecordPaymentCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	uid, ok := callableUID(w, r)
	if !ok {
		return
	}
	var req recordPaymentRequest
	if err := decodeValid(w, r, &req); err != nil {
		handleCallableError(w, r, err)
		return
	}

	res, err := a.billing.RecordPayment(r.Context(), billing.PaymentInput{
		InvoiceID:     req.InvoiceID,
		Amount:        req.Amount,
		Method:        req.Method,
		Date:          req.Date,
		Notes:         req.Notes,
		RecordedByUID: uid,
	})
	if err != nil {
		handleCallableError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invoice.payment_recorded", map[string]any{
		"invoice_id": req.InvoiceID,
		"amount":     req.Amount.String(),
		"method":     string(req.Method),
		"status":     string(res.NewStatus),
	})
	writeJSON(w, http.StatusOK, res)
}
