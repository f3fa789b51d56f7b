package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	wordimpact "github.com/yoursandeshshrestha/word-impact-network-sub003"
)

var (
	listenMode     string
	listenStudent  string
	listenDebounce time.Duration
)

func init() {
	listenCmd.Flags().StringVar(&listenMode, "mode", "refetch", "new_message handling: append (show push at once) or refetch")
	listenCmd.Flags().StringVar(&listenStudent, "student", "", "Student user ID to follow (admin view)")
	listenCmd.Flags().DurationVar(&listenDebounce, "debounce", 0, "Coalesce re-fetch bursts within this window")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream realtime notifications and messages",
	Long:  "Connect to the realtime endpoint and print push events and inbox updates until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var mode wordimpact.MessageMode
		switch listenMode {
		case "refetch":
			mode = wordimpact.MessagesRefetch
		case "append":
			mode = wordimpact.MessagesAppend
		default:
			return fmt.Errorf("--mode must be append or refetch, got %q", listenMode)
		}

		client, cfg, logger := getClient()
		out := cmd.OutOrStdout()

		rt := client.Realtime(&wordimpact.RealtimeConfig{Logger: logger})
		inbox := wordimpact.NewInbox(logger)
		rec := wordimpact.NewReconciler(wordimpact.RESTSource(client, listenStudent), inbox, &wordimpact.ReconcilerOptions{
			Mode:     mode,
			Debounce: listenDebounce,
			Logger:   logger,
		})

		var auth wordimpact.AuthChecker
		if credentialMode(cfg) == wordimpact.CredentialToken {
			auth = wordimpact.TokenAuth(cfg.Auth.Token)
		} else {
			auth = wordimpact.SessionAuth(client)
		}
		gate := wordimpact.NewSessionGate(rt, auth, &wordimpact.GateOptions{Reconciler: rec, Logger: logger})

		subs := []wordimpact.Subscription{
			rt.On(wordimpact.EventStateChange, func(ev wordimpact.Event) { printEvent(out, ev) }),
			rt.On(wordimpact.EventReconnecting, func(ev wordimpact.Event) { printEvent(out, ev) }),
			rt.On(wordimpact.EventReconnectExhausted, func(ev wordimpact.Event) { printEvent(out, ev) }),
			rt.On(wordimpact.EventNewMessage, func(ev wordimpact.Event) { printEvent(out, ev) }),
			rt.On(wordimpact.EventNewNotification, func(ev wordimpact.Event) { printEvent(out, ev) }),
			rt.On(wordimpact.EventMessageRead, func(ev wordimpact.Event) { printEvent(out, ev) }),
			rt.On(wordimpact.EventNotificationRead, func(ev wordimpact.Event) { printEvent(out, ev) }),
		}
		defer func() {
			for _, s := range subs {
				s.Cancel()
			}
		}()
		inbox.OnChange(func(c wordimpact.InboxChange) {
			if c == wordimpact.ChangeUnread {
				u := inbox.Unread()
				fmt.Fprintf(out, "unread: %d messages, %d notifications\n", u.Messages, u.Notifications)
			}
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mountCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := gate.Mount(mountCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("auth check failed: %w", err)
		}
		if !gate.Active() {
			return fmt.Errorf("not authenticated; run 'win login' again")
		}

		fmt.Fprintln(out, "Listening. Press Ctrl+C to stop.")
		<-ctx.Done()

		gate.Unmount()
		rec.Wait()
		return nil
	},
}

func printEvent(w io.Writer, ev wordimpact.Event) {
	ts := time.Now().Format("15:04:05")
	switch e := ev.(type) {
	case wordimpact.StateChangeEvent:
		fmt.Fprintf(w, "%s  connection %s -> %s\n", ts, e.Old, e.New)
	case wordimpact.ReconnectingEvent:
		fmt.Fprintf(w, "%s  reconnecting (attempt %d in %s)\n", ts, e.Attempt, e.Delay)
	case wordimpact.ReconnectExhaustedEvent:
		fmt.Fprintf(w, "%s  gave up after %d attempts\n", ts, e.Attempts)
	case wordimpact.NewMessageEvent:
		from := e.Message.Sender.FullName
		if from == "" {
			from = e.Message.Sender.ID
		}
		fmt.Fprintf(w, "%s  new message from %s: %s\n", ts, from, e.Message.Content)
	case wordimpact.NewNotificationEvent:
		fmt.Fprintf(w, "%s  notification: %s\n", ts, e.Notification.Title)
	case wordimpact.MessageReadEvent:
		fmt.Fprintf(w, "%s  message read %s\n", ts, e.MessageID)
	case wordimpact.NotificationReadEvent:
		fmt.Fprintf(w, "%s  notification read %s\n", ts, e.NotificationID)
	default:
		fmt.Fprintf(w, "%s  %s\n", ts, ev.EventName())
	}
}
