package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Billing and sync metrics.
var (
	InvoicesFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoices_finalized_total",
		Help: "Invoices moved from draft to finalized.",
	})

	PaymentsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_recorded_total",
			Help: "Payments appended to invoice ledgers.",
		},
		[]string{"method"},
	)

	TxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_tx_retries_total",
			Help: "Store transactions retried after a commit conflict.",
		},
		[]string{"op"},
	)

	SheetRowsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sheetsync_rows_appended_total",
		Help: "Payment rows appended to the bookkeeping sheet.",
	})

	SheetSyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetsync_runs_total",
			Help: "Sheet sync runs by result.",
		},
		[]string{"result"},
	)
)

var (
	initOnce sync.Once
	ready    atomic.Bool
)

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			InvoicesFinalized, PaymentsRecorded, TxRetries,
			SheetRowsAppended, SheetSyncRuns,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness flag reported by /readyz.
func SetReady(v bool) { ready.Store(v) }

// Ready reports the readiness flag.
func Ready() bool { return ready.Load() }

// Instrument records RPS, latency and in-flight requests per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses resource IDs so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return p
	}
	switch parts[1] {
	case "invoices":
		switch {
		case len(parts) == 3:
			return "/v1/invoices/:id"
		case len(parts) == 4 && isInvoiceAction(parts[3]):
			return "/v1/invoices/:id/" + parts[3]
		}
	case "customers":
		if len(parts) == 3 {
			return "/v1/customers/:id"
		}
	}
	return p
}

func isInvoiceAction(s string) bool {
	switch s {
	case "preview", "void", "pdf":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
