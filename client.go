// Package unichat provides the Go client for the UniChat messaging service.
//
// It implements the real-time chat and notification delivery subsystem: a
// persistent channel with reconnect and queued sends, reconciling stores for
// conversations, messages, presence and notifications, and an unread
// aggregator: everything a UI needs to render chat correctly.
//
// Example:
//
//	session := unichat.NewSession("u-42", "Dana", token)
//	client := unichat.NewClient(session, unichat.WithBaseURL("https://api.unichat.example"))
//
//	m := unichat.NewMessenger(client, session)
//	if err := m.Start(ctx); err != nil { ... }
//	m.OpenConversation(ctx, convID)
//	m.SendText(ctx, "hello")
package unichat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds every REST call. A request that exceeds it fails
	// into the same error path as any other network failure.
	DefaultTimeout = 10 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST surface of the UniChat service. All calls carry the
// session's bearer credential.
type Client struct {
	baseURL    string
	session    *Session
	httpClient *http.Client
	log        zerolog.Logger

	Conversations *ConversationsAPI
	Messages      *MessagesAPI
	Notifications *NotificationsAPI
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a UniChat REST client for the given session.
func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{
		session: session,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Conversations = &ConversationsAPI{client: c}
	c.Messages = &MessagesAPI{client: c}
	c.Notifications = &NotificationsAPI{client: c}
	return c
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns the session this client authenticates with.
func (c *Client) Session() *Session { return c.session }

// Logger returns the client's logger.
func (c *Client) Logger() zerolog.Logger { return c.log }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil && c.session.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Reason: "server rejected credential"}
	}

	return io.ReadAll(resp.Body)
}

// do runs a request and decodes the standard envelope. An envelope-level
// error comes back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[Result](data)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, &APIError{Code: "UNKNOWN", Message: "request failed"}
	}
	return result, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Sub-clients
// ============================================================================

// ConversationsAPI covers the conversation endpoints.
type ConversationsAPI struct{ client *Client }

// List fetches the authoritative conversation list.
func (a *ConversationsAPI) List(ctx context.Context) ([]Conversation, error) {
	result, err := a.client.do(ctx, "GET", "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := result.Decode(&convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// History fetches the message history for one conversation.
func (a *ConversationsAPI) History(ctx context.Context, conversationID string) ([]Message, error) {
	result, err := a.client.do(ctx, "GET", "/conversations/"+conversationID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := result.Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead tells the server the conversation has been read.
func (a *ConversationsAPI) MarkRead(ctx context.Context, conversationID string) error {
	_, err := a.client.do(ctx, "POST", "/conversations/"+conversationID+"/read", nil, nil)
	return err
}

// MessagesAPI covers the message write endpoint.
type MessagesAPI struct{ client *Client }

// Send posts a new message. This is the authoritative write; the channel
// event only fans the result out to other clients.
func (a *MessagesAPI) Send(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	result, err := a.client.do(ctx, "POST", "/messages", req, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NotificationsAPI covers the notification endpoints.
type NotificationsAPI struct{ client *Client }

// List fetches the notification snapshot for a user.
func (a *NotificationsAPI) List(ctx context.Context, userID string) ([]NotificationRecord, error) {
	result, err := a.client.do(ctx, "GET", "/notifications/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	var records []NotificationRecord
	if err := result.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSeen flips a single notification to seen.
func (a *NotificationsAPI) MarkSeen(ctx context.Context, notificationID string) error {
	_, err := a.client.do(ctx, "PUT", "/notifications/"+notificationID+"/seen", nil, nil)
	return err
}

// MarkAllSeen flips every notification for a user to seen.
func (a *NotificationsAPI) MarkAllSeen(ctx context.Context, userID string) error {
	_, err := a.client.do(ctx, "PUT", "/notifications/seen-all/"+userID, nil, nil)
	return err
}
