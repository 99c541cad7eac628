package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/obs"
	"invoicedesk.app/internal/sheets"
)

const (
	defaultOverlap = 2 * time.Minute
	defaultLockTTL = 5 * time.Minute
	pageSize       = 500
	syncTimeLayout = "2006-01-02 15:04:05 MST"
)

// Source lists invoices changed since a point in time.
type Source interface {
	ListInvoices(ctx context.Context, filter billing.ListFilter) ([]billing.Invoice, error)
}

// Destination is the spreadsheet side of the bridge.
type Destination interface {
	EnsureHeaders(ctx context.Context) error
	ExistingKeys(ctx context.Context) (map[string]struct{}, error)
	AppendRows(ctx context.Context, rows []sheets.PaymentRow) (string, error)
}

// Checkpoint persists the last successful run and guards against two
// processes syncing at once.
type Checkpoint interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
	LastRun(ctx context.Context) (time.Time, bool, error)
	SetLastRun(ctx context.Context, t time.Time) error
}

// Result summarizes one run.
type Result struct {
	Scanned  int    `json:"scanned"`
	Appended int    `json:"appended"`
	Skipped  bool   `json:"skipped"`
	Range    string `json:"range,omitempty"`
}

// Bridge copies recorded payments into the bookkeeping sheet, one row per
// payment, keyed so that re-runs never duplicate a row.
type Bridge struct {
	src     Source
	dst     Destination
	cp      Checkpoint
	now     func() time.Time
	overlap time.Duration
	lockTTL time.Duration
	loc     *time.Location
	log     zerolog.Logger

	mu           sync.Mutex
	headersReady bool
}

// Option configures Bridge.
type Option func(*Bridge)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithOverlap widens the updated-after window so writes that committed
// during the previous run are not missed.
func WithOverlap(d time.Duration) Option {
	return func(b *Bridge) {
		if d >= 0 {
			b.overlap = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New constructs a Bridge. A nil checkpoint uses an in-process one.
func New(src Source, dst Destination, cp Checkpoint, opts ...Option) *Bridge {
	if cp == nil {
		cp = NewMemoryCheckpoint()
	}
	b := &Bridge{
		src:     src,
		dst:     dst,
		cp:      cp,
		now:     func() time.Time { return time.Now().UTC() },
		overlap: defaultOverlap,
		lockTTL: defaultLockTTL,
		loc:     eastern(),
		log:     logger.WithComponent("sheetsync"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func eastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// RunOnce performs one sync pass. Overlapping calls return a skipped result.
func (b *Bridge) RunOnce(ctx context.Context) (Result, error) {
	if !b.mu.TryLock() {
		return Result{Skipped: true}, nil
	}
	defer b.mu.Unlock()

	release, ok, err := b.cp.Acquire(ctx, b.lockTTL)
	if err != nil {
		obs.SheetSyncRuns.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("sheetsync: acquire lock: %w", err)
	}
	if !ok {
		obs.SheetSyncRuns.WithLabelValues("skipped").Inc()
		b.log.Debug().Msg("another sync holds the lock")
		return Result{Skipped: true}, nil
	}
	defer release()

	res, err := b.run(ctx)
	if err != nil {
		obs.SheetSyncRuns.WithLabelValues("error").Inc()
		b.log.Error().Err(err).Msg("sync failed")
		return res, err
	}
	obs.SheetSyncRuns.WithLabelValues("ok").Inc()
	obs.SheetRowsAppended.Add(float64(res.Appended))
	b.log.Info().Int("scanned", res.Scanned).Int("appended", res.Appended).Msg("sync completed")
	return res, nil
}

func (b *Bridge) run(ctx context.Context) (Result, error) {
	started := b.now()

	filter := billing.ListFilter{Limit: pageSize}
	last, ok, err := b.cp.LastRun(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sheetsync: read last run: %w", err)
	}
	if ok {
		filter.UpdatedAfter = last.Add(-b.overlap)
	}

	if !b.headersReady {
		if err := b.dst.EnsureHeaders(ctx); err != nil {
			return Result{}, fmt.Errorf("sheetsync: %w", err)
		}
		b.headersReady = true
	}
	existing, err := b.dst.ExistingKeys(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sheetsync: %w", err)
	}

	var (
		res     Result
		pending []pendingRow
	)
	syncTime := started.In(b.loc).Format(syncTimeLayout)
	for {
		page, err := b.src.ListInvoices(ctx, filter)
		if err != nil {
			return Result{}, fmt.Errorf("sheetsync: list invoices: %w", err)
		}
		for _, inv := range page {
			res.Scanned++
			for _, p := range inv.Payments {
				key := PaymentKey(inv.ID, p)
				if _, seen := existing[key]; seen {
					continue
				}
				existing[key] = struct{}{}
				pending = append(pending, pendingRow{at: p.RecordedAt, row: buildRow(inv, p, key, syncTime, started.In(b.loc))})
			}
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	if len(pending) > 0 {
		sort.SliceStable(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })
		rows := make([]sheets.PaymentRow, len(pending))
		for i, p := range pending {
			rows[i] = p.row
		}
		rng, err := b.dst.AppendRows(ctx, rows)
		if err != nil {
			return res, fmt.Errorf("sheetsync: %w", err)
		}
		res.Appended = len(rows)
		res.Range = rng
	}

	if err := b.cp.SetLastRun(ctx, started); err != nil {
		return res, fmt.Errorf("sheetsync: save last run: %w", err)
	}
	return res, nil
}

// Start runs RunOnce immediately and then every interval until ctx is done.
func (b *Bridge) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	b.log.Info().Dur("interval", interval).Msg("sync loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := b.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Warn().Err(err).Msg("sync tick failed")
		}
		select {
		case <-ctx.Done():
			b.log.Info().Msg("sync loop stopped")
			return
		case <-ticker.C:
		}
	}
}

type pendingRow struct {
	at  time.Time
	row sheets.PaymentRow
}

// PaymentKey identifies a payment row: {invoiceId}_{date}_{amount}_{method}.
func PaymentKey(invoiceID string, p billing.Payment) string {
	return fmt.Sprintf("%s_%s_%s_%s", invoiceID, p.Date, p.Amount.String(), p.Method)
}

func buildRow(inv billing.Invoice, p billing.Payment, key, syncTime string, today time.Time) sheets.PaymentRow {
	date := p.Date
	if date == "" {
		date = inv.DueDate
	}
	if date == "" {
		date = today.Format("2006-01-02")
	}
	method := string(p.Method)
	if method == "" {
		method = string(inv.PaymentType)
	}
	return sheets.PaymentRow{
		Date:              date,
		CustomerInsurance: FormatEnum(string(inv.CustomerInsuranceType)),
		CustomerName:      inv.CustomerName,
		PaymentType:       FormatEnum(method),
		Amount:            billing.Money(p.Amount),
		WhosPaying:        FormatEnum(string(inv.WhosPaying)),
		Notes:             inv.Notes,
		Key:               key,
		SyncTime:          syncTime,
	}
}

// FormatEnum title-cases a snake_case enum value: "drp_payment" → "Drp Payment".
func FormatEnum(v string) string {
	if v == "" {
		return ""
	}
	words := strings.Split(v, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
