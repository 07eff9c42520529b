package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	unichat "github.com/unichat-dev/unichat-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	watchOpen     string
	watchPresence bool
)

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the realtime channel",
	Long:  "Connect to the realtime channel and print incoming messages, notifications,\ntyping indicators, and presence changes until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getClient()
		m := unichat.NewMessenger(client, session)

		m.Realtime().OnStateChange(func(old, next unichat.State) {
			fmt.Printf("-- channel %s\n", next)
		})
		m.Realtime().OnNewMessage(func(msg unichat.Message) {
			fmt.Printf("[%s] %s %s: %s\n",
				msg.SentAt.Format("15:04:05"), msg.ConversationID, msg.SenderID, msg.Text)
		})
		m.OnTypingIndicator(func(p unichat.TypingPayload) {
			fmt.Printf("-- %s is typing in %s\n", p.UserID, p.ConversationID)
		})
		m.Notifications.OnAlert(func(rec unichat.NotificationRecord) {
			fmt.Printf("!! [%s] %s\n", rec.Type, rec.Message)
		})
		m.Unread.OnTotal(func(total int) {
			fmt.Printf("-- unread total: %d\n", total)
		})
		if watchPresence {
			m.Presence.OnChange(func() {
				fmt.Printf("-- online: %v\n", m.Presence.Online())
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.Start(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer m.Stop()

		if watchOpen != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := m.OpenConversation(ctx, watchOpen)
			cancel()
			if err != nil {
				return fmt.Errorf("open conversation: %w", err)
			}
			fmt.Printf("-- watching conversation %s\n", watchOpen)
		}

		fmt.Println("-- connected, press Ctrl-C to stop")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("-- disconnecting")
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	watchCmd.Flags().StringVar(&watchOpen, "open", "", "Conversation to activate while watching")
	watchCmd.Flags().BoolVar(&watchPresence, "presence", false, "Print presence changes")

	rootCmd.AddCommand(watchCmd)
}
