package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"invoicedesk.app/internal/app"
	"invoicedesk.app/internal/billing"
	"invoicedesk.app/internal/logger"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage the company settings document",
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or update company settings",
	Long: `Creates the company settings on first run. On later runs the profile is
updated and the invoice counter is left untouched.`,
	Example: `  invoicectl settings init --prefix WC --tax-rate 0.06 --legal-name "Westside Collision"`,
	RunE:    runSettingsInit,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsInitCmd)
	settingsCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print company settings as JSON",
		RunE:  runSettingsShow,
	})

	f := settingsInitCmd.Flags()
	f.String("prefix", billing.DefaultInvoicePrefix, "Invoice number prefix")
	f.Int64("next-seq", 1, "First invoice sequence (only when creating)")
	f.String("tax-rate", "", "Default tax rate as a fraction, e.g. 0.06")
	f.String("legal-name", "", "Company legal name")
	f.String("phone", "", "Company phone")
	f.String("email", "", "Company email")
	f.String("terms", "", "Payment terms printed on invoices")
}

func runSettingsInit(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("settings")
	ctx := cmd.Context()

	store, err := app.OpenStore(ctx, cfg, log, app.RequireDatabase())
	if err != nil {
		return err
	}
	defer store.Close()

	in := billing.SettingsInput{}
	if cur, err := store.GetSettings(ctx); err == nil {
		in = billing.SettingsInput{
			InvoicePrefix: cur.InvoicePrefix,
			LegalName:     cur.LegalName,
			Phone:         cur.Phone,
			Email:         cur.Email,
			Address:       cur.Address,
			Terms:         cur.Terms,
		}
	} else if !errors.Is(err, billing.ErrConfiguration) {
		return err
	}

	f := cmd.Flags()
	if f.Changed("prefix") || in.InvoicePrefix == "" {
		in.InvoicePrefix, _ = f.GetString("prefix")
	}
	in.NextInvoiceSeq, _ = f.GetInt64("next-seq")
	for name, dst := range map[string]*string{
		"legal-name": &in.LegalName,
		"phone":      &in.Phone,
		"email":      &in.Email,
		"terms":      &in.Terms,
	} {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	if raw, _ := f.GetString("tax-rate"); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid --tax-rate %q: %w", raw, err)
		}
		in.DefaultTaxRate = &rate
	}

	s, err := app.NewService(store, cfg).SaveSettings(ctx, in)
	if err != nil {
		return err
	}
	log.Info().
		Str("prefix", s.InvoicePrefix).
		Int64("next_seq", s.NextInvoiceSeq).
		Str("tax_rate", s.DefaultTaxRate.String()).
		Msg("settings saved")
	return printJSON(s)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	store, err := app.OpenStore(cmd.Context(), cfg, logger.WithComponent("settings"), app.RequireDatabase())
	if err != nil {
		return err
	}
	defer store.Close()
	s, err := store.GetSettings(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
