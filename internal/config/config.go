package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"invoicedesk.app/internal/logger"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field maps 1:1 to an env var.
type Config struct {
	// Server
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	Env      string `mapstructure:"APP_ENV"` // development | production

	// Storage
	DatabaseURL string `mapstructure:"DATABASE_URL"` // empty: in-memory store
	RedisURL    string `mapstructure:"REDIS_URL"`    // empty: in-process sync checkpoint

	// Auth
	AuthSecret      string `mapstructure:"AUTH_SECRET"`
	TokenTTLMinutes int    `mapstructure:"TOKEN_TTL_MINUTES"`

	// HTTP limits
	RateBurst  int     `mapstructure:"RATE_BURST"`
	RatePerSec float64 `mapstructure:"RATE_PER_SEC"`

	// Billing
	TxMaxAttempts int `mapstructure:"TX_MAX_ATTEMPTS"`

	// Google Sheets
	SheetURL        string        `mapstructure:"GOOGLE_SHEET_URL"`
	SheetName       string        `mapstructure:"GOOGLE_SHEET_NAME"`
	CredentialsFile string        `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	CredentialsJSON string        `mapstructure:"GOOGLE_CREDENTIALS"`
	SyncEnabled     bool          `mapstructure:"SYNC_ENABLED"`
	SyncInterval    time.Duration `mapstructure:"SYNC_INTERVAL"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogOutput string `mapstructure:"LOG_OUTPUT"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                      ":8080",
	"GRPC_ADDR":                      ":9090",
	"APP_ENV":                        "development",
	"DATABASE_URL":                   "",
	"REDIS_URL":                      "",
	"AUTH_SECRET":                    "",
	"TOKEN_TTL_MINUTES":              60,
	"RATE_BURST":                     20,
	"RATE_PER_SEC":                   10.0,
	"TX_MAX_ATTEMPTS":                5,
	"GOOGLE_SHEET_URL":               "",
	"GOOGLE_SHEET_NAME":              "Payments",
	"GOOGLE_APPLICATION_CREDENTIALS": "",
	"GOOGLE_CREDENTIALS":             "",
	"SYNC_ENABLED":                   false,
	"SYNC_INTERVAL":                  time.Minute,
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "json",
	"LOG_OUTPUT":                     "stdout",
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	// Optional .env for local development; a missing file is not an error.
	_ = godotenv.Load()
	return FromViper(viper.New())
}

// FromViper applies defaults and env binding to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Env != "development" && c.AuthSecret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required outside development"))
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		errs = append(errs, errors.New("AUTH_SECRET must be at least 32 bytes"))
	}
	if c.TxMaxAttempts < 1 {
		errs = append(errs, errors.New("TX_MAX_ATTEMPTS must be >= 1"))
	}
	if c.SyncEnabled {
		if c.SheetURL == "" {
			errs = append(errs, errors.New("GOOGLE_SHEET_URL is required when SYNC_ENABLED"))
		}
		if c.SyncInterval < time.Second {
			errs = append(errs, errors.New("SYNC_INTERVAL must be at least 1s"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c *Config) IsDevelopment() bool { return strings.EqualFold(c.Env, "development") }

// TokenTTL is TOKEN_TTL_MINUTES as a duration.
func (c *Config) TokenTTL() time.Duration { return time.Duration(c.TokenTTLMinutes) * time.Minute }

// SheetsEnabled reports whether a spreadsheet destination is configured.
func (c *Config) SheetsEnabled() bool { return c.SheetURL != "" }

// LoggerConfig maps the LOG_* settings onto logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	if c.LogLevel != "" {
		lc.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		lc.Format = c.LogFormat
	}
	if c.LogOutput != "" {
		lc.Output = c.LogOutput
	}
	return lc
}
