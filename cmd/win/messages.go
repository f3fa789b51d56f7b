package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	wordimpact "github.com/yoursandeshshrestha/word-impact-network-sub003"
)

var (
	msgListPage    int
	msgListLimit   int
	msgListStudent string
	msgListJSON    bool

	msgSendTo   string
	msgSendJSON bool
)

var messagesCmd = &cobra.Command{
	Use:     "messages",
	Aliases: []string{"msg"},
	Short:   "Conversation commands",
	Long:    "Read and send messages in the student/admin conversation.",
}

// ============================================================================
// messages list
// ============================================================================

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the conversation",
	Long:  "Show your conversation. Admins pass --student to read a student's conversation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := wordimpact.RESTSource(client, msgListStudent).ConversationPage(ctx, &wordimpact.PageOptions{
			Page:  msgListPage,
			Limit: msgListLimit,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if msgListJSON {
			return printJSON(out, page)
		}
		if len(page.Messages) == 0 {
			fmt.Fprintln(out, "No messages found.")
			return nil
		}
		for _, m := range page.Messages {
			printMessage(out, m)
		}
		return nil
	},
}

func printMessage(w io.Writer, m wordimpact.Message) {
	from := m.SenderID
	if m.Sender != nil && m.Sender.FullName != "" {
		from = m.Sender.FullName
	}
	mark := " "
	if !m.IsRead {
		mark = "*"
	}
	fmt.Fprintf(w, "%s [%s] %s: %s\n", mark, m.CreatedAt.Format(time.RFC3339), from, m.Content)
}

// ============================================================================
// messages send
// ============================================================================

var messagesSendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "Send a message",
	Long:  "Send a message. Students reach the admins; admins pass --to with the student's user ID.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := client.Messages.Send(ctx, &wordimpact.SendMessageOptions{Content: args[0], RecipientID: msgSendTo})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if msgSendJSON {
			return printJSON(out, msg)
		}
		fmt.Fprintf(out, "Message sent.\n")
		fmt.Fprintf(out, "  Message ID: %s\n", msg.ID)
		fmt.Fprintf(out, "  Content:    %s\n", msg.Content)
		return nil
	},
}

// ============================================================================
// messages read / unread
// ============================================================================

var messagesReadCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Mark a message as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Messages.MarkAsRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message %s marked as read.\n", args[0])
		return nil
	},
}

var messagesUnreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread message count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n, err := client.Messages.UnreadCount(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unread messages: %d\n", n)
		return nil
	},
}

func init() {
	messagesListCmd.Flags().IntVar(&msgListPage, "page", 1, "Page number")
	messagesListCmd.Flags().IntVarP(&msgListLimit, "limit", "n", 20, "Messages per page")
	messagesListCmd.Flags().StringVar(&msgListStudent, "student", "", "Student user ID (admin view)")
	messagesListCmd.Flags().BoolVar(&msgListJSON, "json", false, "Output JSON")

	messagesSendCmd.Flags().StringVar(&msgSendTo, "to", "", "Recipient user ID")
	messagesSendCmd.Flags().BoolVar(&msgSendJSON, "json", false, "Output JSON")

	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesSendCmd)
	messagesCmd.AddCommand(messagesReadCmd)
	messagesCmd.AddCommand(messagesUnreadCmd)
	rootCmd.AddCommand(messagesCmd)
}
