package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/httpapi"
)

func newTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
		admin   bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin API",
		Long: `Mint a bearer token signed with the node's --admin-secret. Admin endpoints
accept only tokens carrying the admin claim.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			token, expiresAt, err := httpapi.NewJWTAuth(secret).GenerateToken(subject, admin, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "admin API signing secret")
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", httpapi.DefaultTokenTTL, "token lifetime")
	cmd.Flags().BoolVar(&admin, "admin", true, "include the admin claim")
	return cmd
}
