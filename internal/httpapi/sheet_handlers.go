package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"invoicedesk.app/internal/audit"
	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/sheets"
)

// flexString accepts a JSON string or number. Spreadsheet scripts send
// paymentAmount either way.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("paymentAmount must be a string or number")
	}
	*f = flexString(n.String())
	return nil
}

type sheetPaymentRequest struct {
	Date                  string     `json:"date" validate:"required,notblank"`
	CustomerInsuranceType string     `json:"customerInsuranceType"`
	CustomerName          string     `json:"customerName" validate:"required,notblank"`
	PaymentType           string     `json:"paymentType"`
	PaymentAmount         flexString `json:"paymentAmount" validate:"required,notblank"`
	WhosPaying            string     `json:"whosPaying"`
	Notes                 string     `json:"notes"`
}

type sheetPaymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Range   string `json:"range,omitempty"`
}

func (a *API) handleSheetPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sheets == nil {
		writeError(w, r, http.StatusServiceUnavailable, "google sheets is not configured")
		return
	}

	var req sheetPaymentRequest
	if err := decodeValid(w, r, &req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, r, http.StatusBadRequest, "Missing required fields")
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rng, err := a.sheets.AppendPayment(r.Context(), sheets.ManualPayment{
		Date:                  strings.TrimSpace(req.Date),
		CustomerInsuranceType: req.CustomerInsuranceType,
		CustomerName:          strings.TrimSpace(req.CustomerName),
		PaymentType:           req.PaymentType,
		PaymentAmount:         strings.TrimSpace(string(req.PaymentAmount)),
		WhosPaying:            req.WhosPaying,
		Notes:                 req.Notes,
	})
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("append payment row")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	_ = audit.LogEvent(r.Context(), "sheets.payment_appended", map[string]any{
		"customer": req.CustomerName,
		"range":    rng,
	})
	writeJSON(w, http.StatusOK, sheetPaymentResponse{
		Success: true,
		Message: "Payment record added successfully",
		Range:   rng,
	})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireRole(r.Context(), auth.RoleOwner); err != nil {
		handleBillingError(w, r, err)
		return
	}
	if a.syncer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sheet sync is not configured")
		return
	}
	res, err := a.syncer.RunOnce(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("manual sync")
		if errors.Is(err, r.Context().Err()) {
			return
		}
		writeError(w, r, http.StatusBadGateway, "sheet sync failed")
		return
	}
	if res.Skipped {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	_ = audit.LogEvent(r.Context(), "sheets.sync_run", map[string]any{
		"scanned":  res.Scanned,
		"appended": res.Appended,
	})
	writeJSON(w, http.StatusOK, res)
}
