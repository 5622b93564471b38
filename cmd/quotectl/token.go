package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/quote-api/pkg/auth"
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin tokens",
	}

	var (
		secret  string
		issuer  string
		subject string
		role    string
		ttl     time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an admin token with the API's JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			jwtSvc, err := auth.NewJWTService(secret, issuer, ttl)
			if err != nil {
				return err
			}
			token, err := jwtSvc.GenerateToken(subject, role)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", token)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&secret, "secret", os.Getenv("QUOTE_JWT_SECRET"), "JWT secret (or set QUOTE_JWT_SECRET)")
	issueCmd.Flags().StringVar(&issuer, "issuer", "quote-api", "Token issuer, must match jwt.issuer")
	issueCmd.Flags().StringVar(&subject, "subject", "", "Who the token is for, e.g. an operator email")
	issueCmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Role claim")
	issueCmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "Token lifetime")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
