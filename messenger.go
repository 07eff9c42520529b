package unichat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Messenger is the canonical chat subsystem: one connection manager, the
// three stores, the notification bridge and the unread aggregator, wired
// together. Channel events are applied to the stores in arrival order; UI
// intents go through REST first and reach other clients via server fan-out.
type Messenger struct {
	client  *Client
	session *Session
	rt      *Realtime
	log     zerolog.Logger

	Conversations *ConversationStore
	Messages      *MessageStore
	Presence      *PresenceTracker
	Notifications *NotificationBridge
	Unread        *UnreadAggregator

	reconcileEvery time.Duration

	mu       sync.Mutex
	activeID string
	stopCh   chan struct{}
	stopped  bool

	typingMu sync.Mutex
	onTyping []func(TypingPayload)
}

type MessengerOption func(*Messenger)

// WithRealtimeConfig overrides the channel configuration.
func WithRealtimeConfig(cfg *RealtimeConfig) MessengerOption {
	return func(m *Messenger) {
		m.rt = NewRealtime(m.client.BaseURL(), m.session, cfg, m.log)
	}
}

// WithReconcileInterval sets the periodic snapshot re-fetch used as a
// safety net against missed events. Zero disables it.
func WithReconcileInterval(d time.Duration) MessengerOption {
	return func(m *Messenger) { m.reconcileEvery = d }
}

// NewMessenger assembles the subsystem for one session.
func NewMessenger(client *Client, session *Session, opts ...MessengerOption) *Messenger {
	log := client.Logger()
	m := &Messenger{
		client:         client,
		session:        session,
		log:            log,
		reconcileEvery: 5 * time.Minute,
		stopCh:         make(chan struct{}),
	}
	m.rt = NewRealtime(client.BaseURL(), session, nil, log)

	for _, opt := range opts {
		opt(m)
	}

	m.Conversations = NewConversationStore(client.Conversations, session.UserID, log)
	m.Messages = NewMessageStore(client.Messages, client.Conversations, session.UserID, log)
	m.Presence = NewPresenceTracker()
	m.Notifications = NewNotificationBridge(client.Notifications, session.UserID, m.Conversations.IsMuted, log)
	m.Unread = NewUnreadAggregator(m.Conversations, m.Notifications)

	m.rt.OnNewMessage(m.handleInbound)
	m.rt.OnOnlineUsers(m.Presence.ApplySnapshot)
	m.rt.OnTyping(m.handleTyping)
	m.rt.OnNewNotification(func(p NewNotificationPayload) {
		if p.UserID == "" || p.UserID == m.session.UserID {
			m.Notifications.IngestLive(p.Notification)
		}
	})
	m.rt.OnServerError(func(p ErrorPayload) {
		m.log.Warn().Str("reason", p.Reason).Msg("server pushed error")
	})
	m.rt.OnStateChange(m.handleStateChange)

	return m
}

// Realtime exposes the connection manager, e.g. for state banners.
func (m *Messenger) Realtime() *Realtime { return m.rt }

// Start connects the channel and loads the initial snapshots. Snapshot
// failures are not fatal: the periodic reconciliation retries them.
func (m *Messenger) Start(ctx context.Context) error {
	if err := m.rt.Connect(ctx); err != nil {
		return err
	}
	if err := m.Conversations.LoadSnapshot(ctx); err != nil {
		m.log.Warn().Err(err).Msg("initial conversation snapshot failed")
	}
	if err := m.Notifications.LoadSnapshot(ctx); err != nil {
		m.log.Warn().Err(err).Msg("initial notification snapshot failed")
	}
	if m.reconcileEvery > 0 {
		go m.reconcileLoop()
	}
	return nil
}

// Stop tears the subsystem down.
func (m *Messenger) Stop() error {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	m.mu.Unlock()
	return m.rt.Disconnect()
}

// ── Conversation activation ──────────────────────────────

// ActiveConversation returns the conversation currently open, or "".
func (m *Messenger) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// OpenConversation activates a conversation: joins its room, loads the
// history, and marks it read. A history fetch still in flight for the
// previously open conversation is invalidated by the activation.
func (m *Messenger) OpenConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	prev := m.activeID
	m.activeID = id
	m.mu.Unlock()

	if prev != "" && prev != id {
		if err := m.rt.LeaveRoom(prev); err != nil {
			m.log.Debug().Err(err).Msg("leave-room dropped")
		}
	}
	m.Messages.Activate(id)
	if err := m.rt.JoinRoom(id); err != nil {
		m.log.Debug().Err(err).Msg("join-room queued or dropped")
	}

	if err := m.Messages.LoadHistory(ctx, id); err != nil {
		return err
	}

	// Failed read receipts revert silently; the unread invariant is restored
	// by the rollback inside MarkRead.
	var syncErr *SyncError
	if err := m.Conversations.MarkRead(ctx, id); err != nil && !errors.As(err, &syncErr) {
		return err
	}
	return nil
}

// CloseConversation deactivates the current conversation.
func (m *Messenger) CloseConversation() {
	m.mu.Lock()
	prev := m.activeID
	m.activeID = ""
	m.mu.Unlock()

	if prev != "" {
		if err := m.rt.LeaveRoom(prev); err != nil {
			m.log.Debug().Err(err).Msg("leave-room dropped")
		}
		m.Messages.Activate("")
	}
}

// StartDirect begins (or resumes) a direct chat with another user and
// activates it. The provisional conversation is merged, never duplicated,
// once the first message round-trips.
func (m *Messenger) StartDirect(ctx context.Context, targetUserID, displayName string) (Conversation, error) {
	conv := m.Conversations.StartProvisional(targetUserID, displayName)
	if conv.Provisional {
		// Nothing server-side yet; skip the doomed history fetch.
		m.mu.Lock()
		prev := m.activeID
		m.activeID = conv.ID
		m.mu.Unlock()
		if prev != "" && prev != conv.ID {
			if err := m.rt.LeaveRoom(prev); err != nil {
				m.log.Debug().Err(err).Msg("leave-room dropped")
			}
		}
		m.Messages.Activate(conv.ID)
		if err := m.rt.JoinRoom(conv.ID); err != nil {
			m.log.Debug().Err(err).Msg("join-room queued or dropped")
		}
		return conv, nil
	}
	return conv, m.OpenConversation(ctx, conv.ID)
}

// AbandonDirect discards a provisional chat that never saw a message.
func (m *Messenger) AbandonDirect(id string) {
	m.Conversations.AbandonProvisional(id)
	m.mu.Lock()
	if m.activeID == id {
		m.activeID = ""
	}
	m.mu.Unlock()
}

// ── Sending ──────────────────────────────────────────────

// SendText sends a message in the active conversation. The message appears
// immediately as Pending; while the channel is down it stays Pending and is
// delivered on reconnect. Empty text is rejected locally.
func (m *Messenger) SendText(ctx context.Context, text string) (*Message, error) {
	m.mu.Lock()
	convID := m.activeID
	m.mu.Unlock()
	if convID == "" {
		return nil, &ValidationError{Field: "conversation", Reason: "no active conversation"}
	}

	msg, err := m.Messages.Compose(convID, text)
	if err != nil {
		return nil, err
	}

	if m.rt.State() != StateConnected {
		// Deferred: handleStateChange re-delivers pending sends on reconnect.
		return &msg, nil
	}

	confirmed, err := m.Messages.Deliver(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := m.rt.SendMessageEvent(confirmed); err != nil {
		m.log.Debug().Err(err).Msg("fan-out emit dropped; server already owns the message")
	}
	return confirmed, nil
}

// RetryMessage re-delivers a Failed message.
func (m *Messenger) RetryMessage(ctx context.Context, tempID string) (*Message, error) {
	confirmed, err := m.Messages.Retry(ctx, tempID)
	if err != nil {
		return nil, err
	}
	if err := m.rt.SendMessageEvent(confirmed); err != nil {
		m.log.Debug().Err(err).Msg("fan-out emit dropped; server already owns the message")
	}
	return confirmed, nil
}

// DiscardMessage removes a Failed message the user gave up on.
func (m *Messenger) DiscardMessage(tempID string) bool {
	return m.Messages.Discard(tempID)
}

// Typing announces that the user is typing in the active conversation.
func (m *Messenger) Typing() error {
	m.mu.Lock()
	convID := m.activeID
	m.mu.Unlock()
	if convID == "" {
		return nil
	}
	return m.rt.Typing(convID)
}

// OnTypingIndicator registers a callback for other users' typing events.
func (m *Messenger) OnTypingIndicator(h func(TypingPayload)) {
	m.typingMu.Lock()
	m.onTyping = append(m.onTyping, h)
	m.typingMu.Unlock()
}

// ── Notifications ────────────────────────────────────────

// OpenNotification marks a record seen and, for message-type records,
// activates the related conversation.
func (m *Messenger) OpenNotification(ctx context.Context, id string) error {
	var rec *NotificationRecord
	for _, r := range m.Notifications.Records() {
		if r.ID == id {
			rec = &r
			break
		}
	}
	if rec == nil {
		return &ValidationError{Field: "notification", Reason: "unknown id"}
	}

	var syncErr *SyncError
	if err := m.Notifications.MarkSeen(ctx, id); err != nil && !errors.As(err, &syncErr) {
		return err
	}
	if rec.Type == NotifyMessage {
		if conv := rec.ConversationID(); conv != "" {
			return m.OpenConversation(ctx, conv)
		}
	}
	return nil
}

// ── Event handlers ───────────────────────────────────────

func (m *Messenger) handleInbound(msg Message) {
	active := m.ActiveConversation()
	m.Messages.ApplyInbound(msg)
	m.Conversations.ApplyInbound(&msg, active)
}

func (m *Messenger) handleTyping(p TypingPayload) {
	if p.UserID == m.session.UserID {
		return
	}
	m.typingMu.Lock()
	handlers := append([]func(TypingPayload){}, m.onTyping...)
	m.typingMu.Unlock()
	for _, h := range handlers {
		h(p)
	}
}

func (m *Messenger) handleStateChange(old, next State) {
	switch next {
	case StateReconnecting, StateDisconnected:
		// No stale presence: unknown until the server resends the set.
		m.Presence.Reset()
	case StateConnected:
		if old == StateReconnecting {
			go m.afterReconnect()
		}
	}
}

// afterReconnect re-drives everything a dropped channel may have lost:
// room membership, pending sends, and both snapshots.
func (m *Messenger) afterReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	active := m.activeID
	m.mu.Unlock()
	if active != "" {
		if err := m.rt.JoinRoom(active); err != nil {
			m.log.Debug().Err(err).Msg("rejoin dropped")
		}
	}

	for _, msg := range m.Messages.Pending() {
		confirmed, err := m.Messages.Deliver(ctx, msg)
		if err != nil {
			m.log.Warn().Str("message", msg.ID).Err(err).Msg("deferred send failed")
			continue
		}
		if err := m.rt.SendMessageEvent(confirmed); err != nil {
			m.log.Debug().Err(err).Msg("fan-out emit dropped; server already owns the message")
		}
	}

	m.reconcile(ctx)
}

// ── Reconciliation safety net ────────────────────────────

func (m *Messenger) reconcileLoop() {
	ticker := time.NewTicker(m.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.reconcile(ctx)
			cancel()
		}
	}
}

func (m *Messenger) reconcile(ctx context.Context) {
	if err := m.Conversations.LoadSnapshot(ctx); err != nil {
		m.log.Warn().Err(err).Msg("conversation reconcile failed")
	}
	if err := m.Notifications.LoadSnapshot(ctx); err != nil {
		m.log.Warn().Err(err).Msg("notification reconcile failed")
	}
}
