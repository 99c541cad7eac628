package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/migrate"
	"invoicedesk.app/internal/store/pg"
	"invoicedesk.app/ops/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect the Postgres schema",
	Long: `Runs the SQL files embedded from ops/migrations against DATABASE_URL.

Required environment variables:
  DATABASE_URL - PostgreSQL DSN`,
	Example: `  invoicectl migrate up
  invoicectl migrate seed
  invoicectl migrate status`,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.PersistentFlags().Duration("timeout", 60*time.Second, "Overall timeout")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			if err == nil && len(applied) == 0 {
				fmt.Println("schema is up to date")
			}
			return err
		}),
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Println("nothing to roll back")
				return nil
			}
			if err == nil {
				fmt.Println("rolled back", name)
			}
			return err
		}),
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Run seed files not yet applied",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Seed(ctx)
			for _, name := range applied {
				fmt.Println("seeded", name)
			}
			return err
		}),
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			for _, item := range history {
				fmt.Println(item)
			}
			return err
		}),
	})
}

func withManager(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL environment variable is required")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		st, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()

		m := migrate.NewManager(st.DB(), migrations.FS, "sql", "seeds",
			migrate.WithLogger(logger.WithComponent("migrate")))
		return fn(ctx, m)
	}
}
