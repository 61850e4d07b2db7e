package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/httpapi"
)

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign an access token for a till or operator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.AuthSecret) < 32 {
			return errors.New("auth.secret must be set and at least 32 characters")
		}
		company := companyFlag
		if company == "" {
			company = cfg.CompanyID
		}

		auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN)
		token, expiresAt, err := auth.IssueToken(domain.Actor{Username: tokenSubject, Role: tokenRole, CompanyID: company})
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{
			"access_token": token,
			"role":         tokenRole,
			"company_id":   company,
			"expires_at":   expiresAt.Format(time.RFC3339),
		})
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, usually the till or user name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", domain.RoleCashier, "cashier or admin")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}
