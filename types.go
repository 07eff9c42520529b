package unichat

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned inside a REST envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic REST response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Conversations
// ============================================================================

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// MessageSummary is the last-message preview carried on a conversation.
type MessageSummary struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// Conversation is a conversation summary as held by the Conversation Store.
type Conversation struct {
	ID             string           `json:"id"`
	Kind           ConversationKind `json:"kind"`
	DisplayName    string           `json:"displayName"`
	ParticipantIDs []string         `json:"participantIds"`
	LastMessage    *MessageSummary  `json:"lastMessage,omitempty"`
	UnreadCount    int              `json:"unreadCount"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Pinned         bool             `json:"pinned,omitempty"`
	Muted          bool             `json:"muted,omitempty"`
	Archived       bool             `json:"archived,omitempty"`

	// Provisional conversations exist only client-side, created when the user
	// starts a direct chat before the server has confirmed it.
	Provisional bool `json:"-"`
}

// ============================================================================
// Messages
// ============================================================================

type MessageKind string

const (
	MessageText       MessageKind = "text"
	MessageAttachment MessageKind = "attachment"
)

type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// Message is a single chat message. DeliveryState is client-side only: the
// server never reports pending or failed.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Text           string         `json:"text"`
	Kind           MessageKind    `json:"kind"`
	SentAt         time.Time      `json:"sentAt"`
	ReadBy         []string       `json:"readBy,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	DeliveryState DeliveryState `json:"-"`
}

func (m *Message) summary() *MessageSummary {
	return &MessageSummary{ID: m.ID, SenderID: m.SenderID, Text: m.Text, SentAt: m.SentAt}
}

// SendMessageRequest is the POST /messages payload.
type SendMessageRequest struct {
	ConversationID string         `json:"conversationId"`
	Text           string         `json:"text"`
	Type           MessageKind    `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ============================================================================
// Notifications
// ============================================================================

type NotificationType string

const (
	NotifyMessage      NotificationType = "message"
	NotifyCoursePeer   NotificationType = "course-peer"
	NotifyAnnouncement NotificationType = "announcement"
	NotifyForumLike    NotificationType = "forum-like"
	NotifyRequest      NotificationType = "request"
	NotifyGroupInvite  NotificationType = "group-invite"
)

// NotificationRecord is a server-owned notification. The only local mutation
// is flipping IsRead, and that flip is reconciled against the server.
type NotificationRecord struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
	IsRead    bool             `json:"isRead"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// ConversationID returns the related conversation for message-type records,
// or "" when the record carries none.
func (n *NotificationRecord) ConversationID() string {
	if n.Metadata == nil {
		return ""
	}
	if id, ok := n.Metadata["conversationId"].(string); ok {
		return id
	}
	return ""
}

// ============================================================================
// Channel wire format
// ============================================================================

// Envelope is the wire format for all channel events, both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client→server event names.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// Server→client event names.
const (
	EventAuthenticated   = "authenticated"
	EventNewMessage      = "new-message"
	EventUserTyping      = "user-typing"
	EventOnlineUsers     = "online-users"
	EventNewNotification = "new-notification"
	EventError           = "error"
)

// AuthenticatedPayload is the first frame the server sends on a new channel.
type AuthenticatedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// TypingPayload travels in both directions.
type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// RoomPayload identifies a conversation for join-room / leave-room.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// NewNotificationPayload carries a server-pushed notification.
type NewNotificationPayload struct {
	UserID       string             `json:"userId"`
	Notification NotificationRecord `json:"notification"`
}

// ErrorPayload is a server-side error pushed over the channel.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
