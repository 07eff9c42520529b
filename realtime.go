package unichat

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the channel connection.
type RealtimeConfig struct {
	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential backoff.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	// MaxReconnectAttempts caps retries; 0 retries until Disconnect is called.
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	// QueueLimit bounds the outbound queue held while the channel is down.
	// Emits beyond the limit fail with *DeliveryError.
	QueueLimit int
	// TypingInterval is the minimum gap between typing emits per conversation.
	TypingInterval time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = 64
	}
	if c.TypingInterval == 0 {
		c.TypingInterval = 2 * time.Second
	}
}

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ============================================================================
// Event dispatcher
// ============================================================================

// EventHandler is the generic event callback type.
type EventHandler func(eventType string, payload json.RawMessage)

// Handlers run synchronously on the channel's read loop, one event at a
// time, so store mutations from successive events are serialized. A handler
// that blocks stalls delivery for its whole connection.
type dispatcher struct {
	mu              sync.RWMutex
	generic         map[string][]EventHandler
	onAuthenticated []func(AuthenticatedPayload)
	onNewMessage    []func(Message)
	onTyping        []func(TypingPayload)
	onOnlineUsers   []func([]string)
	onNotification  []func(NewNotificationPayload)
	onServerError   []func(ErrorPayload)
	onState         []func(old, next State)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		generic: make(map[string][]EventHandler),
	}
}

func (d *dispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case EventAuthenticated:
		var p AuthenticatedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onAuthenticated {
				h(p)
			}
		}
	case EventNewMessage:
		var m Message
		if json.Unmarshal(env.Payload, &m) == nil {
			for _, h := range d.onNewMessage {
				h(m)
			}
		}
	case EventUserTyping:
		var p TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case EventOnlineUsers:
		var ids []string
		if json.Unmarshal(env.Payload, &ids) == nil {
			for _, h := range d.onOnlineUsers {
				h(ids)
			}
		}
	case EventNewNotification:
		var p NewNotificationPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNotification {
				h(p)
			}
		}
	case EventError:
		var p ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onServerError {
				h(p)
			}
		}
	}

	for _, h := range d.generic[env.Type] {
		h(env.Type, env.Payload)
	}
}

func (d *dispatcher) emitState(old, next State) {
	d.mu.RLock()
	handlers := append([]func(State, State){}, d.onState...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(old, next)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay returns base*2^attempt capped at maxDelay, with ±20% jitter.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	delay := math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt)),
		float64(r.maxDelay),
	)
	jitter := 0.8 + 0.4*rand.Float64()
	r.attempt++
	return time.Duration(delay * jitter)
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Realtime
// ============================================================================

// Realtime owns the persistent channel for one session: connect and auth
// handshake, reconnect with capped backoff, a bounded FIFO queue for emits
// while the channel is down, and serialized event delivery to subscribers.
//
// Only Realtime writes to the connection; stores observe events through
// subscribed handlers.
type Realtime struct {
	baseURL string
	session *Session
	config  *RealtimeConfig
	log     zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	intentionalClose bool
	cancelFn         context.CancelFunc
	queue            [][]byte

	writeMu sync.Mutex

	dispatcher *dispatcher
	recon      *reconnector

	typingMu sync.Mutex
	typing   map[string]*rate.Limiter
}

// NewRealtime creates a channel client. Call Connect to establish the
// connection.
func NewRealtime(baseURL string, session *Session, config *RealtimeConfig, log zerolog.Logger) *Realtime {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Realtime{
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		config:     &cfg,
		log:        log,
		state:      StateDisconnected,
		dispatcher: newDispatcher(),
		recon:      newReconnector(&cfg),
		typing:     make(map[string]*rate.Limiter),
	}
}

// ── Handler registration ─────────────────────────────────

// OnStateChange registers a handler for connection state transitions.
func (rt *Realtime) OnStateChange(h func(old, next State)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onState = append(rt.dispatcher.onState, h)
	rt.dispatcher.mu.Unlock()
}

// OnAuthenticated registers a handler for the auth handshake event.
func (rt *Realtime) OnAuthenticated(h func(AuthenticatedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onAuthenticated = append(rt.dispatcher.onAuthenticated, h)
	rt.dispatcher.mu.Unlock()
}

// OnNewMessage registers a handler for inbound messages.
func (rt *Realtime) OnNewMessage(h func(Message)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onNewMessage = append(rt.dispatcher.onNewMessage, h)
	rt.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for typing indicators.
func (rt *Realtime) OnTyping(h func(TypingPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

// OnOnlineUsers registers a handler for the presence snapshot.
func (rt *Realtime) OnOnlineUsers(h func([]string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onOnlineUsers = append(rt.dispatcher.onOnlineUsers, h)
	rt.dispatcher.mu.Unlock()
}

// OnNewNotification registers a handler for pushed notifications.
func (rt *Realtime) OnNewNotification(h func(NewNotificationPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onNotification = append(rt.dispatcher.onNotification, h)
	rt.dispatcher.mu.Unlock()
}

// OnServerError registers a handler for server-side channel errors.
func (rt *Realtime) OnServerError(h func(ErrorPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onServerError = append(rt.dispatcher.onServerError, h)
	rt.dispatcher.mu.Unlock()
}

// Subscribe registers a generic handler for an event type.
func (rt *Realtime) Subscribe(eventType string, h EventHandler) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.generic[eventType] = append(rt.dispatcher.generic[eventType], h)
	rt.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rt *Realtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// QueuedEmits returns the number of commands waiting for reconnect.
func (rt *Realtime) QueuedEmits() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.queue)
}

// connectFailed restores the pre-attempt state: a failed attempt during
// reconnect stays in Reconnecting so the UI banner does not flicker.
func (rt *Realtime) connectFailed(reconnecting bool) {
	rt.mu.Lock()
	intentional := rt.intentionalClose
	rt.mu.Unlock()
	if reconnecting && !intentional {
		rt.setState(StateReconnecting)
	} else {
		rt.setState(StateDisconnected)
	}
}

func (rt *Realtime) setState(next State) {
	rt.mu.Lock()
	old := rt.state
	rt.state = next
	rt.mu.Unlock()
	if old != next {
		rt.dispatcher.emitState(old, next)
	}
}

// ── Connect / Disconnect ─────────────────────────────────

// Connect establishes the channel and performs the auth handshake. A
// rejected credential returns *AuthError and is never retried with the same
// token.
func (rt *Realtime) Connect(ctx context.Context) error {
	if !rt.session.Valid() {
		return &AuthError{Reason: "token missing or expired"}
	}

	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	reconnecting := rt.state == StateReconnecting
	if !reconnecting {
		// A fresh Connect supersedes an earlier Disconnect. Reconnect
		// attempts must not clear the flag: Disconnect can land while
		// a dial is in flight, and its intent has to survive.
		rt.intentionalClose = false
	}
	rt.mu.Unlock()
	if !reconnecting {
		rt.setState(StateConnecting)
	}

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?userId=" + rt.session.UserID + "&token=" + rt.session.AuthToken

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.connectFailed(reconnecting)
		return &NetworkError{Op: "channel dial", Err: err}
	}

	// First frame must be the authenticated envelope.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.connectFailed(reconnecting)
		return &NetworkError{Op: "auth handshake", Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.connectFailed(reconnecting)
		reason := "handshake refused"
		if env.Type == EventError {
			var p ErrorPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.Reason != "" {
				reason = p.Reason
			}
		}
		return &AuthError{Reason: reason}
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.mu.Lock()
	if rt.intentionalClose {
		// Disconnect won the race against this dial.
		rt.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		rt.setState(StateDisconnected)
		return nil
	}
	if rt.cancelFn != nil {
		// Release the dropped connection's context before replacing it.
		rt.cancelFn()
	}
	rt.conn = conn
	rt.cancelFn = cancel
	rt.mu.Unlock()
	rt.recon.markConnected()

	rt.setState(StateConnected)
	rt.dispatcher.dispatch(env)
	rt.flushQueue(connCtx)

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect closes the channel and stops any reconnect attempts.
func (rt *Realtime) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.mu.Unlock()

	rt.setState(StateDisconnected)
	rt.recon.reset()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// ── Emit ─────────────────────────────────────────────────

// Emit sends a command over the channel, fire-and-forget. While the channel
// is down the command is queued in FIFO order and flushed on reconnect;
// if the queue is full the command is dropped and *DeliveryError returned.
func (rt *Realtime) Emit(eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return err
	}

	rt.mu.Lock()
	conn := rt.conn
	connected := rt.state == StateConnected && conn != nil
	if !connected {
		if len(rt.queue) >= rt.config.QueueLimit {
			queued := len(rt.queue)
			rt.mu.Unlock()
			return &DeliveryError{Event: eventType, Queued: queued}
		}
		rt.queue = append(rt.queue, data)
		rt.mu.Unlock()
		return nil
	}
	rt.mu.Unlock()

	return rt.write(context.Background(), conn, data)
}

// JoinRoom subscribes this client to a conversation's fan-out.
func (rt *Realtime) JoinRoom(conversationID string) error {
	return rt.Emit(EventJoinRoom, RoomPayload{ConversationID: conversationID})
}

// LeaveRoom unsubscribes this client from a conversation's fan-out.
func (rt *Realtime) LeaveRoom(conversationID string) error {
	return rt.Emit(EventLeaveRoom, RoomPayload{ConversationID: conversationID})
}

// SendMessageEvent announces a confirmed message for server fan-out.
func (rt *Realtime) SendMessageEvent(msg *Message) error {
	return rt.Emit(EventSendMessage, msg)
}

// Typing emits a typing indicator, throttled per conversation so keypress
// storms do not flood the channel. Throttled emits are dropped silently.
func (rt *Realtime) Typing(conversationID string) error {
	rt.typingMu.Lock()
	lim, ok := rt.typing[conversationID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(rt.config.TypingInterval), 1)
		rt.typing[conversationID] = lim
	}
	rt.typingMu.Unlock()

	if !lim.Allow() {
		return nil
	}
	return rt.Emit(EventTyping, TypingPayload{
		UserID:         rt.session.UserID,
		ConversationID: conversationID,
	})
}

// write serializes channel writes: only the connection manager touches the
// socket, and never from two goroutines at once.
func (rt *Realtime) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &NetworkError{Op: "channel write", Err: err}
	}
	return nil
}

func (rt *Realtime) flushQueue(ctx context.Context) {
	rt.mu.Lock()
	pending := rt.queue
	rt.queue = nil
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return
	}
	for _, data := range pending {
		if err := rt.write(ctx, conn, data); err != nil {
			rt.log.Warn().Err(err).Msg("flush aborted, channel dropped again")
			return
		}
	}
	if n := len(pending); n > 0 {
		rt.log.Debug().Int("flushed", n).Msg("queued emits flushed")
	}
}

// ── Loops ────────────────────────────────────────────────

func (rt *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			if rt.conn == conn {
				rt.conn = nil
			}
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.log.Warn().Err(err).Msg("channel dropped")
			if rt.recon.shouldReconnect() {
				rt.setState(StateReconnecting)
				go rt.reconnectLoop(ctx)
			} else {
				rt.setState(StateDisconnected)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		// Events apply to stores in arrival order: dispatch is synchronous
		// on this goroutine.
		rt.dispatcher.dispatch(env)
	}
}

func (rt *Realtime) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force the read loop into the reconnect path.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *Realtime) reconnectLoop(ctx context.Context) {
	for {
		delay := rt.recon.nextDelay()
		rt.log.Info().Dur("delay", delay).Int("attempt", rt.recon.attempt).Msg("reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		rt.mu.Lock()
		if rt.intentionalClose {
			rt.mu.Unlock()
			return
		}
		rt.mu.Unlock()

		err := rt.Connect(ctx)
		if err == nil {
			return
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// A bad token will not get better by retrying.
			rt.log.Error().Err(err).Msg("reconnect refused, credential rejected")
			rt.setState(StateDisconnected)
			return
		}

		if !rt.recon.shouldReconnect() {
			rt.setState(StateDisconnected)
			return
		}
		rt.setState(StateReconnecting)
	}
}
