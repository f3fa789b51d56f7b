package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	wordimpact "github.com/yoursandeshshrestha/word-impact-network-sub003"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration, verify the stored session and show unread counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Base URL:        %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Fprintf(out, "  Credential mode: %s\n", credentialMode(cfg))
		fmt.Fprintf(out, "  Log level:       %s\n", valueOrDefault(cfg.Default.LogLevel, "warn"))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		switch {
		case cfg.Auth.Token != "":
			fmt.Fprintf(out, "  Token:   %s\n", maskSecret(cfg.Auth.Token))
		case cfg.Auth.Cookie != "":
			fmt.Fprintf(out, "  Cookie:  %s\n", maskSecret(cfg.Auth.Cookie))
		default:
			fmt.Fprintln(out, "  (not logged in)")
			return nil
		}
		if cfg.Auth.Email != "" {
			fmt.Fprintf(out, "  Email:   %s\n", cfg.Auth.Email)
			fmt.Fprintf(out, "  Role:    %s\n", cfg.Auth.Role)
		}

		if cfg.Default.BaseURL == "" {
			return nil
		}
		client, err := newClient(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Auth.Me(ctx)
		if err != nil {
			var apiErr *wordimpact.APIError
			if errors.As(err, &apiErr) && apiErr.Status == 401 {
				fmt.Fprintln(out, "  Session: EXPIRED (run 'win login' again)")
				return nil
			}
			fmt.Fprintf(out, "  Error fetching account info: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  Session:               valid\n")
		fmt.Fprintf(out, "  User:                  %s (%s)\n", valueOrDefault(me.FullName, me.Email), me.Role)

		counts, err := wordimpact.RESTSource(client, "").UnreadCounts(ctx)
		if err != nil {
			fmt.Fprintf(out, "  Error fetching unread counts: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  Unread messages:       %d\n", counts.Messages)
		fmt.Fprintf(out, "  Unread notifications:  %d\n", counts.Notifications)
		return nil
	},
}
