package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/export"
)

const (
	exportPageSize = 1000
	exportMaxRows  = 50000
)

func (a *API) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	a.exportInvoices(w, r, "text/csv; charset=utf-8", "csv", export.WriteCSV)
}

func (a *API) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	a.exportInvoices(w, r, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", export.WriteXLSX)
}

func (a *API) exportInvoices(w http.ResponseWriter, r *http.Request, contentType, ext string, write func(io.Writer, []billing.Invoice) error) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit, filter.Offset = exportPageSize, 0

	var all []billing.Invoice
	for len(all) < exportMaxRows {
		page, err := a.billing.ListInvoices(r.Context(), filter)
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	var buf bytes.Buffer
	if err := write(&buf, all); err != nil {
		handleBillingError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="invoices-%s.%s"`, a.now().Format("2006-01-02"), ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
