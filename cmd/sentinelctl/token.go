package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"Web3-Sentinel/internal/auth"
	"Web3-Sentinel/internal/config"
)

// tokenCmd 使用服务端同一份配置中的密钥签发访问令牌。
func tokenCmd() *cobra.Command {
	var (
		configPath  string
		username    string
		roles       []string
		permissions []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the server secret",
		Example: `  sentinelctl token --user ops --permission agents:read --permission agents:dispatch
  SENTINEL_JWT_SECRET=... sentinelctl token --user admin --permission '*'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.Path()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			manager, err := auth.NewTokenManager(auth.Config{
				Secret: cfg.Server.Auth.ResolvedSecret(),
				Issuer: cfg.Server.Auth.Issuer,
				TTL:    cfg.Server.Auth.TokenTTL(),
			})
			if err != nil {
				return err
			}
			if len(permissions) == 0 {
				permissions = []string{auth.PermissionRead}
			}
			token, err := manager.Issue(&auth.Subject{
				Username:    username,
				Roles:       roles,
				Permissions: permissions,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "server configuration file (defaults to $SENTINEL_CONFIG)")
	cmd.Flags().StringVar(&username, "user", "sentinelctl", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles to embed")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "permissions to grant (agents:read, agents:dispatch, catalog:write or *)")
	return cmd
}
