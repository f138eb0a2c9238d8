package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "kycflow/internal/jwt_token"
	"kycflow/internal/platform/config"
)

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing",
		Long: `Sign an access token with JWT_SIGNING_KEY for the given user. Refused in
production, where tokens come from the identity provider.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.Server.IsProduction() {
				return fmt.Errorf("refusing to mint tokens in production")
			}
			userID, err := parseUser(args[0])
			if err != nil {
				return err
			}
			jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
			token, err := jwtService.GenerateAccessToken(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "role claim (user, demo, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
