// Package app wires configuration into the concrete store, sheet client,
// sync checkpoint and token signer shared by the api server and invoicectl.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/config"
	"invoicedesk.app/internal/sheets"
	"invoicedesk.app/internal/sheetsync"
	"invoicedesk.app/internal/store/pg"
)

// Store is the opened document store plus the handle needed for readiness
// probes. DB is nil for the in-memory store.
type Store struct {
	billing.Store
	DB     *sql.DB
	closer io.Closer
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ErrNoDatabase is returned by OpenStore(..., RequireDatabase()) when
// DATABASE_URL is empty.
var ErrNoDatabase = errors.New("DATABASE_URL environment variable is required")

type storeOptions struct {
	requireDB bool
}

// StoreOption configures OpenStore.
type StoreOption func(*storeOptions)

// RequireDatabase disables the in-memory fallback. Commands that write or
// sync data must not run against a process-local store.
func RequireDatabase() StoreOption {
	return func(o *storeOptions) { o.requireDB = true }
}

// OpenStore opens Postgres when DATABASE_URL is set and falls back to the
// in-memory store otherwise.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...StoreOption) (*Store, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.DatabaseURL == "" {
		if o.requireDB {
			return nil, ErrNoDatabase
		}
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return &Store{Store: billing.NewInMemory()}, nil
	}
	st, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("connected to postgres")
	return &Store{Store: st, DB: st.DB(), closer: st}, nil
}

// NewService builds the billing service with the configured retry budget.
func NewService(store billing.Store, cfg *config.Config) *billing.Service {
	return billing.NewService(store, billing.WithMaxAttempts(cfg.TxMaxAttempts))
}

// NewSheets returns nil, nil when no spreadsheet is configured.
func NewSheets(ctx context.Context, cfg *config.Config) (*sheets.Client, error) {
	if !cfg.SheetsEnabled() {
		return nil, nil
	}
	return sheets.NewClient(ctx, sheets.Config{
		SheetURL:        cfg.SheetURL,
		SheetName:       cfg.SheetName,
		CredentialsFile: cfg.CredentialsFile,
		CredentialsJSON: cfg.CredentialsJSON,
	})
}

// NewCheckpoint uses Redis when REDIS_URL is set. The returned client, if
// any, must be closed by the caller.
func NewCheckpoint(ctx context.Context, cfg *config.Config) (sheetsync.Checkpoint, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return sheetsync.NewMemoryCheckpoint(), nil, nil
	}
	rdb, err := sheetsync.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return sheetsync.NewRedisCheckpoint(rdb, ""), rdb, nil
}

// NewSigner builds the token signer. In development an empty AUTH_SECRET is
// replaced with a random per-process key so tokens do not survive restarts.
func NewSigner(cfg *config.Config, log zerolog.Logger) (*auth.Signer, error) {
	secret := cfg.AuthSecret
	if secret == "" && cfg.IsDevelopment() {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate dev secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("AUTH_SECRET not set, using an ephemeral development key")
	}
	return auth.NewSigner(secret)
}
