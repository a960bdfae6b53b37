package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskwise/taskwise/internal/config"
	"github.com/taskwise/taskwise/internal/gateway"
)

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a user",
		Long: `Mint a signed bearer token for the given user, using the auth.jwt_secret
from the configuration file. Clients send it as "Authorization: Bearer <token>".`,
		Example: `  taskwise token --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, resolveConfigPath(configPath), userID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "",
		"User id the token identifies")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runToken(cmd *cobra.Command, configPath, userID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := gateway.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry).Generate(userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
