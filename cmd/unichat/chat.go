package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	unichat "github.com/unichat-dev/unichat-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations list
	conversationsUnread bool
	conversationsJSON   bool

	// messages
	messagesLimit int
	messagesJSON  bool

	// send
	sendJSON bool

	// notifications list
	notificationsUnseen bool
	notificationsJSON   bool
)

// ============================================================================
// conversations (parent command)
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage conversations",
	Long:  "List conversations and mark them read.",
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conversations, err := client.Conversations.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if conversationsUnread {
			filtered := conversations[:0]
			for _, c := range conversations {
				if c.UnreadCount > 0 {
					filtered = append(filtered, c)
				}
			}
			conversations = filtered
		}

		if conversationsJSON {
			b, _ := json.MarshalIndent(conversations, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range conversations {
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			pinned := ""
			if c.Pinned {
				pinned = " [pinned]"
			}
			title := c.DisplayName
			if title == "" {
				title = string(c.Kind)
			}
			fmt.Printf("  %s: %s%s%s\n", c.ID, title, unread, pinned)
		}
		return nil
	},
}

// ============================================================================
// conversations read
// ============================================================================

var conversationsReadCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Conversations.MarkRead(ctx, conversationID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation %s marked as read.\n", conversationID)
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, err := client.Conversations.History(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if messagesLimit > 0 && len(messages) > messagesLimit {
			messages = messages[len(messages)-messagesLimit:]
		}

		if messagesJSON {
			b, _ := json.MarshalIndent(messages, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format("2006-01-02 15:04"), msg.SenderID, msg.Text)
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		text := strings.Join(args[1:], " ")
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := client.Messages.Send(ctx, &unichat.SendMessageRequest{
			ConversationID: conversationID,
			Text:           text,
			Type:           unichat.MessageText,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if sendJSON {
			b, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Message sent to conversation %s\n", msg.ConversationID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Text:       %s\n", msg.Text)
		return nil
	},
}

// ============================================================================
// notifications (parent command)
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Manage notifications",
	Long:  "List notifications and mark them seen.",
}

// ============================================================================
// notifications list
// ============================================================================

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		records, err := client.Notifications.List(ctx, session.UserID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if notificationsUnseen {
			filtered := records[:0]
			for _, r := range records {
				if !r.IsRead {
					filtered = append(filtered, r)
				}
			}
			records = filtered
		}

		if notificationsJSON {
			b, _ := json.MarshalIndent(records, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(records) == 0 {
			fmt.Println("No notifications found.")
			return nil
		}

		for _, r := range records {
			seen := " "
			if !r.IsRead {
				seen = "*"
			}
			fmt.Printf("%s [%s] %s: %s (%s)\n", seen, r.CreatedAt.Format("2006-01-02 15:04"), r.Type, r.Message, r.ID)
		}
		return nil
	},
}

// ============================================================================
// notifications seen
// ============================================================================

var notificationsSeenCmd = &cobra.Command{
	Use:   "seen <notification-id>",
	Short: "Mark a notification as seen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notificationID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications.MarkSeen(ctx, notificationID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Notification %s marked as seen.\n", notificationID)
		return nil
	},
}

// ============================================================================
// notifications seen-all
// ============================================================================

var notificationsSeenAllCmd = &cobra.Command{
	Use:   "seen-all",
	Short: "Mark all notifications as seen",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications.MarkAllSeen(ctx, session.UserID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println("All notifications marked as seen.")
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	// conversations list
	conversationsListCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "Show only unread conversations")
	conversationsListCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")

	// messages
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "Maximum number of messages to show")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	// send
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	// notifications list
	notificationsListCmd.Flags().BoolVar(&notificationsUnseen, "unseen", false, "Show only unseen notifications")
	notificationsListCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output raw JSON")

	// Wire up conversations sub-commands.
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsReadCmd)

	// Wire up notifications sub-commands.
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsSeenCmd)
	notificationsCmd.AddCommand(notificationsSeenAllCmd)

	// Register under root.
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(notificationsCmd)
}
