package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra/auth"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Credentials for the HTTP API",
	}
	cmd.AddCommand(newHashKeyCmd(), newTokenCmd())
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the bcrypt hash to put into auth.api_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		keyPath string
		userID  string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an RS256 operator token",
		Example: `  agentcore auth token --private-key keys/operator.pem --user alice --scope approvals
  agentcore auth token --private-key keys/operator.pem --user root --scope admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range scopes {
				if s != domain.ScopeApprovals && s != domain.ScopeAdmin {
					return fmt.Errorf("unknown scope %q (want %s or %s)", s, domain.ScopeApprovals, domain.ScopeAdmin)
				}
			}
			data, err := os.ReadFile(keyPath)
			if err != nil {
				return err
			}
			key, err := auth.ParseRSAPrivateKey(data)
			if err != nil {
				return err
			}
			token, err := auth.NewIssuer(key).Issue(userID, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "private-key", "", "PEM encoded RSA private key")
	cmd.Flags().StringVar(&userID, "user", "", "operator id recorded as the approval reviewer")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{domain.ScopeApprovals}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("private-key")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
