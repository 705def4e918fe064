package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tempmail/lease/internal/app"
	"tempmail/lease/internal/auth/jwt"
	"tempmail/lease/internal/config"
	"tempmail/lease/internal/logger"
	"tempmail/lease/internal/storage"
)

// runtimeState 子命令共享的依赖
type runtimeState struct {
	cfg      *config.Config
	store    storage.Store
	services *app.Services
	log      *zap.Logger
}

func (rt *runtimeState) Close() error {
	_ = rt.log.Sync()
	return rt.store.Close()
}

type runtimeLoader func() (*runtimeState, error)

func loadRuntime() (*runtimeState, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewDevelopmentLogger()
	store, err := app.OpenStore(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	services, err := app.NewServices(cfg, store, nil, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &runtimeState{cfg: cfg, store: store, services: services, log: log}, nil
}

func newRootCommand(load runtimeLoader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "leasectl",
		Short:        "Temp mailbox lease administration",
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(
		newSetRoleCommand(load),
		newGetRoleCommand(load),
		newTokenCommand(load),
		newSweepCommand(load),
	)
	return root
}

// withRuntime 加载依赖，执行 fn，然后释放
func withRuntime(load runtimeLoader, fn func(rt *runtimeState) error) error {
	rt, err := load()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(rt)
}

func newSetRoleCommand(load runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "setrole <userId> <regular|vip|admin>",
		Short: "Set a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(load, func(rt *runtimeState) error {
				policy, err := rt.services.Roles.SetRole(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user %s is now %s (max leases: %d, lease duration: %s)\n",
					args[0], strings.ToLower(strings.TrimSpace(args[1])), policy.MaxLeases, policy.LeaseDuration)
				return nil
			})
		},
	}
}

func newGetRoleCommand(load runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "getrole <userId>",
		Short: "Show a user's role and quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(load, func(rt *runtimeState) error {
				role, err := rt.services.Roles.GetRole(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				policy := rt.services.Quota.Policies().Resolve(role)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user %s: %s (max leases: %d, lease duration: %s)\n",
					args[0], role, policy.MaxLeases, policy.LeaseDuration)
				return nil
			})
		},
	}
}

func newTokenCommand(load runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "token <userId>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(load, func(rt *runtimeState) error {
				manager := jwt.NewManager(rt.cfg.JWT.Secret, rt.cfg.JWT.Issuer, rt.cfg.JWT.AccessExpiry)
				token, expiresAt, err := manager.GenerateToken(args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
				rt.log.Info("token issued", zap.String("user_id", args[0]), zap.Time("expires_at", expiresAt))
				return nil
			})
		},
	}
}

func newSweepCommand(load runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(load, func(rt *runtimeState) error {
				result, err := rt.services.Cleanup.Run(cmd.Context())
				if result != nil {
					encoder := json.NewEncoder(cmd.OutOrStdout())
					encoder.SetIndent("", "  ")
					if encodeErr := encoder.Encode(result); encodeErr != nil {
						return encodeErr
					}
				}
				return err
			})
		},
	}
}
