package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoicedesk.app/internal/config"
	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/obs"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "Operator CLI for invoicedesk",
	Long: `invoicectl runs schema migrations, initializes company settings,
triggers the bookkeeping sheet sync and issues API tokens.

Configuration is read from the environment (and an optional .env file), the
same variables the api server uses.`,
	Version:       obs.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		lc := c.LoggerConfig()
		if lc.Output == "stdout" {
			lc.Output = "stderr"
		}
		if _, err := logger.Setup(lc); err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		l := logger.WithComponent("cmd")
		l.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
