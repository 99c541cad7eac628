package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/obs"
	"invoicedesk.app/internal/sheets"
	"invoicedesk.app/internal/sheetsync"
)

const (
	serviceName  = "invoicedesk-api"
	maxBodyBytes = 1 << 20
)

// ReadyProbe is a simple readiness check (a database ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// PaymentAppender posts a manually entered payment row to the bookkeeping sheet.
type PaymentAppender interface {
	AppendPayment(ctx context.Context, p sheets.ManualPayment) (string, error)
}

// Syncer runs one sheet sync pass on demand.
type Syncer interface {
	RunOnce(ctx context.Context) (sheetsync.Result, error)
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	billing   *billing.Service
	signer    *auth.Signer
	sheets    PaymentAppender
	syncer    Syncer
	readiness readinessChecker
	version   string
	log       zerolog.Logger

	devTokens  bool
	tokenTTL   time.Duration
	rateBurst  int
	ratePerSec float64
	now        func() time.Time
}

// Option configures API.
type Option func(*API)

// WithSigner enables bearer authentication on /v1.
func WithSigner(s *auth.Signer) Option { return func(a *API) { a.signer = s } }

// WithSheets enables POST /v1/sheets/payments.
func WithSheets(p PaymentAppender) Option { return func(a *API) { a.sheets = p } }

// WithSyncer enables POST /v1/sync/run.
func WithSyncer(s Syncer) Option { return func(a *API) { a.syncer = s } }

// WithReadiness sets the probe behind /readyz.
func WithReadiness(r readinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.readiness = r
		}
	}
}

// WithVersion sets the version reported by /healthz and /v1/info.
func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithDevTokens mounts POST /v1/auth/token. Development only.
func WithDevTokens(ttl time.Duration) Option {
	return func(a *API) {
		a.devTokens = true
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

func New(svc *billing.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		billing:    svc,
		readiness:  ReadyProbe{},
		version:    obs.Version,
		log:        logger.WithComponent("http"),
		tokenTTL:   60 * time.Minute,
		rateBurst:  20,
		ratePerSec: 10,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	if a.devTokens {
		a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	}

	// callable operations
	a.mux.HandleFunc("/v1/calls/finalizeInvoice", a.handleFinalizeCall)
	a.mux.HandleFunc("/v1/calls/recordPayment", a.handleRecordPaymentCall)

	// resources
	a.mux.HandleFunc("/v1/invoices", a.handleInvoicesCollection)
	a.mux.HandleFunc("/v1/invoices/", a.handleInvoiceResource)
	a.mux.HandleFunc("/v1/customers", a.handleCustomersCollection)
	a.mux.HandleFunc("/v1/customers/", a.handleCustomerResource)
	a.mux.HandleFunc("/v1/settings", a.handleSettings)

	// exports and sheets
	a.mux.HandleFunc("/v1/export/invoices.csv", a.handleExportCSV)
	a.mux.HandleFunc("/v1/export/invoices.xlsx", a.handleExportXLSX)
	a.mux.HandleFunc("/v1/sheets/payments", a.handleSheetPayment)
	a.mux.HandleFunc("/v1/sync/run", a.handleSyncRun)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(a.log)(h)
	h = Recovery(a.log)(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().Format(time.RFC3339),
		"version": a.version,
		"commit":  obs.Commit,
		"sheets":  a.sheets != nil,
		"sync":    a.syncer != nil,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
