package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoicedesk.app/internal/app"
	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/sheetsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy recorded payments to the bookkeeping sheet",
	Long: `Appends one row per recorded payment to the configured Google Sheet.
Rows are keyed by invoice, date, amount and method, so re-running never
duplicates a payment.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_SHEET_URL - Spreadsheet URL or id`,
	Example: `  # One pass
  invoicectl sync run

  # Keep syncing every SYNC_INTERVAL until interrupted
  invoicectl sync run --loop`,
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the payment sync",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncRunCmd.Flags().Bool("loop", false, "Keep running every SYNC_INTERVAL")
}

func runSync(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sync")
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.SheetsEnabled() {
		return errors.New("GOOGLE_SHEET_URL environment variable is required")
	}
	store, err := app.OpenStore(ctx, cfg, log, app.RequireDatabase())
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := app.NewSheets(ctx, cfg)
	if err != nil {
		return err
	}
	cp, rdb, err := app.NewCheckpoint(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	bridge := sheetsync.New(store, client, cp)
	if loop, _ := cmd.Flags().GetBool("loop"); loop {
		bridge.Start(ctx, cfg.SyncInterval)
		return nil
	}

	res, err := bridge.RunOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}
