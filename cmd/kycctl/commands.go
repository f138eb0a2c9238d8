package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kycflow/internal/kyc/analyzer"
	"kycflow/internal/kyc/handler"
	"kycflow/internal/kyc/policy"
	"kycflow/internal/kyc/provider"
	"kycflow/internal/kyc/service"
	"kycflow/internal/kyc/store"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/logger"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/platform/redis"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/privacy"
)

// manager opens the configured shared store and returns a session manager
// over it. Analyses are never started from the CLI, so the local provider
// suffices.
func manager(ctx context.Context) (*service.Service, func(), error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewWithWriter(rootCmd.ErrOrStderr(), logLevel, false)

	var (
		sessions service.SessionStore
		closer   = func() {}
	)
	switch cfg.Store {
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		sessions, closer = store.NewRedis(client.Client), func() { client.Close() }
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		sessions, closer = store.NewPostgres(db), func() { db.Close() }
	default:
		return nil, nil, fmt.Errorf("kycctl needs a shared store, set KYC_STORE to %q or %q", config.StoreRedis, config.StorePostgres)
	}

	p := policy.Default()
	if cfg.KYC.PolicyFile != "" {
		if p, err = policy.LoadFile(cfg.KYC.PolicyFile); err != nil {
			closer()
			return nil, nil, err
		}
	} else {
		p.SessionTTL = cfg.KYC.SessionTTL
	}

	ref := analyzer.NewReference()
	svc := service.New(sessions, provider.NewLocal(ref, ref),
		service.WithLogger(log),
		service.WithPolicy(p),
		service.WithHasher(privacy.NewHasher([]byte(cfg.KYC.AuditHashKey))),
		service.WithDemoApproval(cfg.KYC.DemoEnabled, cfg.Server.IsProduction()),
	)
	return svc, closer, nil
}

// withManager runs fn against a manager and closes the store afterwards.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := cmd.Context()
	svc, closer, err := manager(ctx)
	if err != nil {
		return err
	}
	defer closer()
	return fn(ctx, svc)
}

func parseUser(arg string) (id.UserID, error) {
	userID, err := id.ParseUserID(arg)
	if err != nil {
		return id.UserID{}, fmt.Errorf("invalid user id %q: %w", arg, err)
	}
	return userID, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's session",
		Long:  `Print the user's session as JSON. Document numbers are masked.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, svc *service.Service) error {
				session, err := svc.GetSession(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), handler.FromSession(session))
			})
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <user-id>",
		Short: "Print a user's completion percentage and approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, svc *service.Service) error {
				progress, err := svc.GetProgress(ctx, userID)
				if err != nil {
					return err
				}
				approved, err := svc.IsKYCApproved(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"progress": progress, "approved": approved})
			})
		},
	}
}

func expireCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "expire [user-id]",
		Short: "Expire one session, or every stale one",
		Long: `With a user id, expire that user's session. Without one, expire every
open session idle for longer than --older-than (the session TTL by default).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, svc *service.Service) error {
				if len(args) == 1 {
					userID, err := parseUser(args[0])
					if err != nil {
						return err
					}
					session, err := svc.ExpireSession(ctx, userID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), handler.FromSession(session))
				}
				n, err := svc.ExpireStale(ctx, olderThan)
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "idle time after which a session is stale (default: session TTL)")
	return cmd
}

func demoApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo-approve <user-id>",
		Short: "Approve a user without verification (non-production only)",
		Long: `Replace the user's session with a completed, low-risk one. Requires
KYC_DEMO_ENABLED=true and is refused in production.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, svc *service.Service) error {
				session, err := svc.AutoApprove(ctx, userID, service.RoleAdmin)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), handler.FromSession(session))
			})
		},
	}
}
