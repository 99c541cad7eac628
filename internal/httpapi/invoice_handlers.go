package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"invoicedesk.app/internal/audit"
	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/export"
)

type lineItemRequest struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Taxable     bool            `json:"taxable"`
}

type draftRequest struct {
	CustomerID            string                `json:"customerId" validate:"max=64"`
	CustomerName          string                `json:"customerName" validate:"max=200"`
	Date                  string                `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DueDate               string                `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Notes                 string                `json:"notes" validate:"max=2000"`
	CustomerInsuranceType billing.InsuranceType `json:"customerInsuranceType"`
	PaymentType           billing.PaymentType   `json:"paymentType"`
	WhosPaying            billing.Payer         `json:"whosPaying"`
	LineItems             []lineItemRequest     `json:"lineItems" validate:"max=200,dive"`
}

func (req draftRequest) input() billing.DraftInput {
	items := make([]billing.LineItem, len(req.LineItems))
	for i, li := range req.LineItems {
		items[i] = billing.LineItem{
			Description: strings.TrimSpace(li.Description),
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Taxable:     li.Taxable,
		}
	}
	return billing.DraftInput{
		CustomerID:            req.CustomerID,
		CustomerName:          req.CustomerName,
		Date:                  req.Date,
		DueDate:               req.DueDate,
		Notes:                 req.Notes,
		CustomerInsuranceType: req.CustomerInsuranceType,
		PaymentType:           req.PaymentType,
		WhosPaying:            req.WhosPaying,
		LineItems:             items,
	}
}

type listInvoicesResponse struct {
	Items  []billing.Invoice `json:"items"`
	Count  int               `json:"count"`
	Offset int               `json:"offset"`
}

type previewResponse struct {
	Totals  billing.Totals        `json:"totals"`
	Display billing.DisplayTotals `json:"display"`
}

func (a *API) handleInvoicesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listInvoices(w, r)
	case http.MethodPost:
		a.createInvoice(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleInvoiceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/invoices/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, action, _ := strings.Cut(path, "/")
	if strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getInvoice(w, r, id)
		case http.MethodPatch:
			a.updateInvoice(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
	case "preview":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.previewInvoice(w, r, id)
	case "void":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.voidInvoice(w, r, id)
	case "pdf":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.invoicePDF(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.billing.ListInvoices(r.Context(), filter)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listInvoicesResponse{Items: items, Count: len(items), Offset: filter.Offset})
}

func listFilterFromQuery(r *http.Request) (billing.ListFilter, error) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		return billing.ListFilter{}, err
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return billing.ListFilter{}, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return billing.ListFilter{
		Status:     billing.Status(strings.TrimSpace(q.Get("status"))),
		CustomerID: strings.TrimSpace(q.Get("customerId")),
		Limit:      limit,
		Offset:     offset,
	}, nil
}

func (a *API) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !a.bind(w, r, &req) {
		return
	}
	inv, err := a.billing.CreateDraft(r.Context(), auth.UIDFromContext(r.Context()), req.input())
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/invoices/"+inv.ID)
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) getInvoice(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := a.billing.GetInvoice(r.Context(), id)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) updateInvoice(w http.ResponseWriter, r *http.Request, id string) {
	var req draftRequest
	if !a.bind(w, r, &req) {
		return
	}
	inv, err := a.billing.UpdateDraft(r.Context(), id, req.input())
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) previewInvoice(w http.ResponseWriter, r *http.Request, id string) {
	totals, err := a.billing.Preview(r.Context(), id)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Totals: totals, Display: totals.Display()})
}

func (a *API) voidInvoice(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := a.billing.Void(r.Context(), id)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invoice.voided", map[string]any{
		"invoice_id": id,
		"invoice_no": inv.InvoiceNo,
	})
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) invoicePDF(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := a.billing.GetInvoice(r.Context(), id)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	settings, err := a.billing.Settings(r.Context())
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteInvoicePDF(&buf, inv, settings); err != nil {
		handleBillingError(w, r, err)
		return
	}
	name := inv.InvoiceNo
	if name == "" {
		name = "draft-" + inv.ID
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// --- customers ---

type customerRequest struct {
	Name             string           `json:"name" validate:"required,max=200"`
	Email            string           `json:"email" validate:"omitempty,email"`
	Phone            string           `json:"phone" validate:"max=40"`
	Address          *billing.Address `json:"address"`
	InsuranceCompany string           `json:"insuranceCompany" validate:"max=200"`
	PolicyNumber     string           `json:"policyNumber" validate:"max=100"`
}

func (a *API) handleCustomersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		items, err := a.billing.ListCustomers(r.Context(), limit)
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		var req customerRequest
		if !a.bind(w, r, &req) {
			return
		}
		c, err := a.billing.CreateCustomer(r.Context(), auth.UIDFromContext(r.Context()), billing.Customer{
			Name:             req.Name,
			Email:            strings.TrimSpace(req.Email),
			Phone:            strings.TrimSpace(req.Phone),
			Address:          req.Address,
			InsuranceCompany: strings.TrimSpace(req.InsuranceCompany),
			PolicyNumber:     strings.TrimSpace(req.PolicyNumber),
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/customers/"+c.ID)
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCustomerResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/customers/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	c, err := a.billing.GetCustomer(r.Context(), id)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- settings ---

type settingsRequest struct {
	InvoicePrefix  string           `json:"invoicePrefix" validate:"omitempty,max=16,alphanum"`
	NextInvoiceSeq int64            `json:"nextInvoiceSeq" validate:"gte=0"`
	DefaultTaxRate *decimal.Decimal `json:"defaultTaxRate"`
	LegalName      string           `json:"legalName" validate:"max=200"`
	Phone          string           `json:"phone" validate:"max=40"`
	Email          string           `json:"email" validate:"omitempty,email"`
	Address        billing.Address  `json:"address"`
	Terms          string           `json:"terms" validate:"max=2000"`
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, err := a.billing.Settings(r.Context())
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodPut:
		if err := a.requireRole(r.Context(), auth.RoleOwner); err != nil {
			handleBillingError(w, r, err)
			return
		}
		var req settingsRequest
		if !a.bind(w, r, &req) {
			return
		}
		s, err := a.billing.SaveSettings(r.Context(), billing.SettingsInput{
			InvoicePrefix:  req.InvoicePrefix,
			NextInvoiceSeq: req.NextInvoiceSeq,
			DefaultTaxRate: req.DefaultTaxRate,
			LegalName:      req.LegalName,
			Phone:          req.Phone,
			Email:          req.Email,
			Address:        req.Address,
			Terms:          req.Terms,
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "settings.updated", map[string]any{
			"invoice_prefix":   s.InvoicePrefix,
			"default_tax_rate": s.DefaultTaxRate.String(),
		})
		writeJSON(w, http.StatusOK, s)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
