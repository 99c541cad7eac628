package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/invoices":              "/v1/invoices",
		"/v1/invoices/01HX":         "/v1/invoices/:id",
		"/v1/invoices/01HX/void":    "/v1/invoices/:id/void",
		"/v1/invoices/01HX/pdf":     "/v1/invoices/:id/pdf",
		"/v1/invoices/01HX/extra":   "/v1/invoices/01HX/extra",
		"/v1/customers/abc":         "/v1/customers/:id",
		"/v1/calls/finalizeInvoice": "/v1/calls/finalizeInvoice",
		"/v1/invoices?status=paid":  "/v1/invoices",
		"/v1/export/invoices.csv":   "/v1/export/invoices.csv",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/invoices/:id", "418"))
	for _, id := range []string{"a", "b"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/invoices/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/invoices/:id", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests counted, got %v", after-before)
	}
}

func TestReadyFlag(t *testing.T) {
	SetReady(false)
	if Ready() {
		t.Fatal("expected not ready")
	}
	SetReady(true)
	if !Ready() {
		t.Fatal("expected ready")
	}
}
