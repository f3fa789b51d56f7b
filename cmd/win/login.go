package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	loginToken   string
	loginCookie  string
	loginNoCheck bool
)

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Bearer token (selects token credential mode)")
	loginCmd.Flags().StringVar(&loginCookie, "cookie", "", "Session cookie, name=value or a bare value (selects cookie mode)")
	loginCmd.Flags().BoolVar(&loginNoCheck, "no-check", false, "Store credentials without verifying them")
	loginCmd.MarkFlagsMutuallyExclusive("token", "cookie")
	loginCmd.MarkFlagsOneRequired("token", "cookie")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store session credentials",
	Long:  "Store a bearer token or session cookie and verify it against /auth/me.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Default.BaseURL == "" {
			return fmt.Errorf("no base URL configured; run 'win init <base-url>' first")
		}

		cfg.Auth = ConfigAuth{Token: loginToken, Cookie: loginCookie}
		if loginToken != "" {
			cfg.Default.CredentialMode = "token"
		} else {
			cfg.Default.CredentialMode = "cookie"
		}

		if !loginNoCheck {
			client, err := newClient(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			me, err := client.Auth.Me(ctx)
			if err != nil {
				return fmt.Errorf("credentials rejected: %w", err)
			}
			cfg.Auth.UserID = me.ID
			cfg.Auth.Email = me.Email
			cfg.Auth.Role = me.Role
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Logged in (%s mode)\n", cfg.Default.CredentialMode)
		if cfg.Auth.UserID != "" {
			fmt.Fprintf(out, "  User ID: %s\n", cfg.Auth.UserID)
			fmt.Fprintf(out, "  Email:   %s\n", cfg.Auth.Email)
			fmt.Fprintf(out, "  Role:    %s\n", cfg.Auth.Role)
		}
		return nil
	},
}
