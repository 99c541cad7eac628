package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/sheets"
	"invoicedesk.app/internal/sheetsync"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type fakeAppender struct {
	mu   sync.Mutex
	rows []sheets.ManualPayment
	err  error
}

func (f *fakeAppender) AppendPayment(ctx context.Context, p sheets.ManualPayment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.rows = append(f.rows, p)
	return "Payments!A2:G2", nil
}

type fakeSyncer struct {
	calls int
}

func (f *fakeSyncer) RunOnce(ctx context.Context) (sheetsync.Result, error) {
	f.calls++
	return sheetsync.Result{Scanned: 3, Appended: 2}, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	sheets  *fakeAppender
	syncer  *fakeSyncer
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := billing.NewInMemory()
	svc := billing.NewService(store,
		billing.WithClock(func() time.Time { return testNow }),
		billing.WithLogger(zerolog.Nop()),
		billing.WithBackoff(0),
	)
	if _, err := svc.SaveSettings(context.Background(), billing.SettingsInput{LegalName: "Westside Collision"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	signer, err := auth.NewSigner(testSecret)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	appender := &fakeAppender{}
	syncer := &fakeSyncer{}
	api := New(svc,
		WithSigner(signer),
		WithSheets(appender),
		WithSyncer(syncer),
		WithDevTokens(time.Hour),
		WithRateLimit(1000, 1000),
		WithVersion("test"),
	)
	api.log = zerolog.Nop()

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		sheets:  appender,
		syncer:  syncer,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) obtainToken(uid string, roles ...string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"uid": uid, "roles": roles}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func (c *apiClient) createDraft(token string) string {
	c.t.Helper()
	resp := c.post("/v1/invoices", map[string]any{
		"customerName": "Jane Doe",
		"date":         "2024-03-15",
		"lineItems": []map[string]any{
			{"description": "Labor", "quantity": 2, "unitPrice": 50, "taxable": true},
			{"description": "Shop fee", "quantity": 1, "unitPrice": "30", "taxable": false},
		},
	}, token)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create draft status: %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/v1/invoices/") {
		c.t.Fatalf("unexpected Location %q", loc)
	}
	inv := decode[map[string]any](c.t, resp)
	return inv["id"].(string)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectCallableError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != code {
		t.Fatalf("expected code %q, got %v", code, body["code"])
	}
	if body["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestCallableFinalizeAndPaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("staff-1", auth.RoleStaff)
	id := api.createDraft(token)

	resp := api.post("/v1/calls/finalizeInvoice", map[string]any{"invoiceId": id}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status: %d", resp.StatusCode)
	}
	fin := decode[map[string]any](t, resp)
	if fin["invoiceNo"] != "WC-2024-00001" {
		t.Fatalf("unexpected invoice no: %v", fin["invoiceNo"])
	}
	totals := fin["totals"].(map[string]any)
	for field, want := range map[string]string{"subtotal": "130", "taxableAmount": "100", "taxAmount": "6", "total": "136"} {
		if totals[field] != want {
			t.Fatalf("totals.%s = %v, want %s", field, totals[field], want)
		}
	}

	steps := []struct {
		amount  any
		method  string
		balance string
		status  string
	}{
		{100, "check", "36", "partial"},
		{"36", "cash", "0", "paid"},
	}
	for _, step := range steps {
		resp = api.post("/v1/calls/recordPayment", map[string]any{
			"invoiceId": id,
			"amount":    step.amount,
			"method":    step.method,
			"date":      "2024-03-16",
		}, token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("record payment status: %d", resp.StatusCode)
		}
		res := decode[map[string]any](t, resp)
		if res["newBalance"] != step.balance || res["newStatus"] != step.status {
			t.Fatalf("unexpected payment result: %v", res)
		}
	}

	resp = api.post("/v1/calls/recordPayment", map[string]any{
		"invoiceId": id, "amount": 10, "method": "cash",
	}, token)
	expectCallableError(t, resp, http.StatusConflict, billing.CodeFailedPrecondition)

	resp = api.get("/v1/invoices/"+id, nil, token)
	inv := decode[map[string]any](t, resp)
	if inv["status"] != "paid" || inv["balance"] != "0" {
		t.Fatalf("unexpected invoice after payments: %v", inv)
	}
	if payments := inv["payments"].([]any); len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}
}

func TestCallableErrors(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("staff-1", auth.RoleStaff)

	resp := api.post("/v1/calls/finalizeInvoice", map[string]any{"invoiceId": "x"}, "")
	expectCallableError(t, resp, http.StatusUnauthorized, billing.CodeUnauthenticated)

	resp = api.post("/v1/calls/finalizeInvoice", map[string]any{}, token)
	expectCallableError(t, resp, http.StatusBadRequest, billing.CodeInvalidArgument)

	resp = api.post("/v1/calls/finalizeInvoice", map[string]any{"invoiceId": "missing"}, token)
	expectCallableError(t, resp, http.StatusNotFound, billing.CodeNotFound)

	id := api.createDraft(token)
	resp = api.post("/v1/calls/finalizeInvoice", map[string]any{"invoiceId": id}, token)
	resp.Body.Close()
	resp = api.post("/v1/calls/finalizeInvoice", map[string]any{"invoiceId": id}, token)
	expectCallableError(t, resp, http.StatusConflict, billing.CodeFailedPrecondition)

	for _, body := range []map[string]any{
		{"invoiceId": id, "amount": 0, "method": "cash"},
		{"invoiceId": id, "amount": -5, "method": "cash"},
		{"invoiceId": id, "amount": 5, "method": "bitcoin"},
		{"invoiceId": id, "amount": 5, "method": "cash", "date": "03/16/2024"},
		{"invoiceId": id, "amount": 5, "method": "cash", "extra": true},
	} {
		resp = api.post("/v1/calls/recordPayment", body, token)
		expectCallableError(t, resp, http.StatusBadRequest, billing.CodeInvalidArgument)
	}
}

func TestInvoiceResources(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("staff-1", auth.RoleStaff)
	id := api.createDraft(token)

	resp := api.get("/v1/invoices/"+id+"/preview", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status: %d", resp.StatusCode)
	}
	preview := decode[map[string]any](t, resp)
	if preview["display"].(map[string]any)["total"] != "136.00" {
		t.Fatalf("unexpected preview: %v", preview)
	}

	resp = api.do(http.MethodPatch, "/v1/invoices/"+id, map[string]any{
		"customerName": "Jane Roe",
		"lineItems":    []map[string]any{{"description": "Paint", "quantity": 1, "unitPrice": 200, "taxable": true}},
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status: %d", resp.StatusCode)
	}
	patched := decode[map[string]any](t, resp)
	if patched["customerName"] != "Jane Roe" {
		t.Fatalf("patch not applied: %v", patched)
	}

	resp = api.get("/v1/invoices", url.Values{"status": {"draft"}}, token)
	list := decode[map[string]any](t, resp)
	if list["count"].(float64) != 1 {
		t.Fatalf("expected 1 draft, got %v", list["count"])
	}
	resp = api.get("/v1/invoices", url.Values{"status": {"bogus"}}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/invoices/"+id+"/pdf", nil, token)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("pdf status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	pdf, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("pdf body does not start with %%PDF-")
	}

	resp = api.post("/v1/invoices/"+id+"/void", nil, token)
	voided := decode[map[string]any](t, resp)
	if voided["status"] != "void" {
		t.Fatalf("expected void, got %v", voided["status"])
	}
	resp = api.do(http.MethodPatch, "/v1/invoices/"+id, map[string]any{"customerName": "X"}, token)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 patching a void invoice, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/invoices/"+id+"/unknown", nil, token)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCustomers(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("staff-1", auth.RoleStaff)

	resp := api.post("/v1/customers", map[string]any{"name": "Acme Fleet", "email": "ops@acme.test"}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create customer status: %d", resp.StatusCode)
	}
	c := decode[map[string]any](t, resp)

	resp = api.get("/v1/customers/"+c["id"].(string), nil, token)
	got := decode[map[string]any](t, resp)
	if got["name"] != "Acme Fleet" {
		t.Fatalf("unexpected customer: %v", got)
	}

	resp = api.post("/v1/customers", map[string]any{"name": "Bad", "email": "not-an-email"}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/invoices", map[string]any{"customerId": c["id"]}, token)
	inv := decode[map[string]any](t, resp)
	if inv["customerName"] != "Acme Fleet" {
		t.Fatalf("customer name not resolved: %v", inv["customerName"])
	}
}

func TestSettingsRequiresOwner(t *testing.T) {
	api := newTestAPI(t)
	staff := api.obtainToken("staff-1", auth.RoleStaff)
	owner := api.obtainToken("owner-1", auth.RoleOwner)

	body := map[string]any{"invoicePrefix": "WS", "defaultTaxRate": "0.07", "nextInvoiceSeq": 99}
	resp := api.do(http.MethodPut, "/v1/settings", body, staff)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/settings", body, owner)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner settings status: %d", resp.StatusCode)
	}
	s := decode[map[string]any](t, resp)
	if s["invoicePrefix"] != "WS" || s["defaultTaxRate"] != "0.07" {
		t.Fatalf("unexpected settings: %v", s)
	}
	if s["nextInvoiceSeq"].(float64) != 1 {
		t.Fatalf("existing sequence must be preserved, got %v", s["nextInvoiceSeq"])
	}

	resp = api.do(http.MethodPut, "/v1/settings", map[string]any{"defaultTaxRate": "1.5"}, owner)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for rate > 1, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSheetPaymentEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("staff-1", auth.RoleStaff)

	resp := api.post("/v1/sheets/payments", map[string]any{"customerName": "Jane"}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "Missing required fields" {
		t.Fatalf("unexpected error: %v", body["error"])
	}

	for _, payload := range []map[string]any{
		{"date": "  ", "customerName": "Jane", "paymentAmount": 10},
		{"date": "2024-03-15", "customerName": "Jane", "paymentAmount": " "},
		{"date": "2024-03-15", "customerName": "Jane", "paymentAmount": nil},
	} {
		resp = api.post("/v1/sheets/payments", payload, token)
		body = decode[map[string]any](t, resp)
		if resp.StatusCode != http.StatusBadRequest || body["error"] != "Missing required fields" {
			t.Fatalf("%v: status %d error %v", payload, resp.StatusCode, body["error"])
		}
	}

	resp = api.post("/v1/sheets/payments", map[string]any{"date": "2024-03-15", "extra": true}, token)
	body = decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body["error"] == "Missing required fields" {
		t.Fatalf("unknown field: status %d error %v", resp.StatusCode, body["error"])
	}
	if len(api.sheets.rows) != 0 {
		t.Fatalf("rejected requests must not append: %+v", api.sheets.rows)
	}

	resp = api.post("/v1/sheets/payments", map[string]any{
		"date":                  "2024-03-15",
		"customerInsuranceType": "Insurance",
		"customerName":          "Jane",
		"paymentType":           "Check",
		"paymentAmount":         250.5,
		"whosPaying":            "Deductible",
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("append status: %d", resp.StatusCode)
	}
	ok := decode[map[string]any](t, resp)
	if ok["success"] != true || ok["range"] != "Payments!A2:G2" {
		t.Fatalf("unexpected response: %v", ok)
	}
	if len(api.sheets.rows) != 1 || api.sheets.rows[0].PaymentAmount != "250.5" {
		t.Fatalf("unexpected rows: %+v", api.sheets.rows)
	}

	api.sheets.err = errors.New("quota")
	resp = api.post("/v1/sheets/payments", map[string]any{
		"date": "2024-03-15", "customerName": "Jane", "paymentAmount": "10",
	}, token)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSyncRunRequiresOwner(t *testing.T) {
	api := newTestAPI(t)
	staff := api.obtainToken("staff-1", auth.RoleStaff)
	owner := api.obtainToken("owner-1", auth.RoleOwner)

	resp := api.post("/v1/sync/run", nil, staff)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/sync/run", nil, owner)
	res := decode[map[string]any](t, resp)
	if res["appended"].(float64) != 2 || api.syncer.calls != 1 {
		t.Fatalf("unexpected sync result: %v", res)
	}
}

func TestExportCSV(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("staff-1", auth.RoleStaff)
	id := api.createDraft(token)
	resp := api.post("/v1/calls/finalizeInvoice", map[string]any{"invoiceId": id}, token)
	resp.Body.Close()
	api.createDraft(token)

	resp = api.get("/v1/export/invoices.csv", nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status: %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "invoices-") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "Invoice No" {
		t.Fatalf("unexpected header %v", records[0])
	}
	var sawFinal bool
	for _, rec := range records[1:] {
		if rec[0] == "WC-2024-00001" {
			sawFinal = true
			if rec[3] != "136.00" || rec[4] != "finalized" || rec[5] != "136.00" {
				t.Fatalf("unexpected row %v", rec)
			}
		}
	}
	if !sawFinal {
		t.Fatalf("finalized invoice missing from export")
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/invoices", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] == "" || body["request_id"] == "" {
		t.Fatalf("expected error and request_id, got %v", body)
	}

	resp = api.get("/v1/invoices", nil, "not-a-jwt")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []map[string]any{
		{"uid": ""},
		{"uid": "u1", "roles": []string{}},
		{"uid": "u1", "roles": []string{"admin"}},
	} {
		resp := api.post("/v1/auth/token", body, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestReadyzReportsProbe(t *testing.T) {
	svc := billing.NewService(billing.NewInMemory(), billing.WithLogger(zerolog.Nop()))
	api := New(svc, WithReadiness(failingReadiness{}))
	api.log = zerolog.Nop()

	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
