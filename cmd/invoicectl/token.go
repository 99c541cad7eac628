package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"invoicedesk.app/internal/app"
	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/logger"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue API bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:     "issue",
	Short:   "Sign a token with AUTH_SECRET",
	Example: `  invoicectl token issue --uid alice --role owner --ttl 720h`,
	RunE:    runTokenIssue,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().String("uid", "", "Caller uid (required)")
	tokenIssueCmd.Flags().StringSlice("role", []string{auth.RoleStaff}, "Role(s): owner, staff")
	tokenIssueCmd.Flags().Duration("ttl", 0, "Token lifetime (default TOKEN_TTL_MINUTES)")
	_ = tokenIssueCmd.MarkFlagRequired("uid")
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	if cfg.AuthSecret == "" {
		return errors.New("AUTH_SECRET environment variable is required to issue tokens")
	}
	uid, _ := cmd.Flags().GetString("uid")
	roles, _ := cmd.Flags().GetStringSlice("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.TokenTTL()
	}
	for _, r := range roles {
		if r != auth.RoleOwner && r != auth.RoleStaff {
			return errors.New("role must be owner or staff")
		}
	}

	signer, err := app.NewSigner(cfg, logger.WithComponent("token"))
	if err != nil {
		return err
	}
	token, exp, err := signer.Issue(uid, roles, ttl)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"token":      token,
		"expires_at": exp.Format(time.RFC3339),
	})
}
