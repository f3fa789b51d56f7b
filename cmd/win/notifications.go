package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	wordimpact "github.com/yoursandeshshrestha/word-impact-network-sub003"
)

var (
	notifListPage   int
	notifListLimit  int
	notifListUnread bool
	notifListJSON   bool
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Notification commands",
}

// ============================================================================
// notifications list
// ============================================================================

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.Notifications.List(ctx, &wordimpact.NotificationListOptions{
			Page:       notifListPage,
			Limit:      notifListLimit,
			UnreadOnly: notifListUnread,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if notifListJSON {
			return printJSON(out, page)
		}
		if len(page.Notifications) == 0 {
			fmt.Fprintln(out, "No notifications.")
			return nil
		}
		for _, n := range page.Notifications {
			mark := " "
			if !n.IsRead {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s  [%s] %s\n", mark, n.ID, n.CreatedAt.Format(time.RFC3339), n.Title)
			if n.Content != "" {
				fmt.Fprintf(out, "    %s\n", n.Content)
			}
		}
		p := page.Pagination
		fmt.Fprintf(out, "\nPage %d of %d (%d total)\n", p.Page, p.TotalPages, p.Total)
		return nil
	},
}

// ============================================================================
// notifications unread
// ============================================================================

var notificationsUnreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread notification count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n, err := client.Notifications.UnreadCount(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unread notifications: %d\n", n)
		return nil
	},
}

// ============================================================================
// notifications read / read-all
// ============================================================================

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications.MarkAsRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Notification %s marked as read.\n", args[0])
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications.MarkAllAsRead(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All notifications marked as read.")
		return nil
	},
}

func init() {
	notificationsListCmd.Flags().IntVar(&notifListPage, "page", 1, "Page number")
	notificationsListCmd.Flags().IntVarP(&notifListLimit, "limit", "n", 20, "Notifications per page")
	notificationsListCmd.Flags().BoolVar(&notifListUnread, "unread", false, "Show only unread notifications")
	notificationsListCmd.Flags().BoolVar(&notifListJSON, "json", false, "Output JSON")

	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsUnreadCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)
	rootCmd.AddCommand(notificationsCmd)
}
