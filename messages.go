package unichat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// MessageStore
// ============================================================================

type timelineEntry struct {
	msg Message
	seq int64 // local arrival counter, tie-break for equal SentAt
}

// MessageStore holds the ordered timeline of the currently active
// conversation. History comes from REST on activation; live events append.
// Ordering key is (SentAt, arrivalSeq): non-decreasing timestamps, ties
// broken by arrival order at this client.
type MessageStore struct {
	mu      sync.Mutex
	api     *MessagesAPI
	convAPI *ConversationsAPI
	selfID  string
	log     zerolog.Logger

	activeID string
	epoch    uint64
	entries  []timelineEntry
	seen     map[string]struct{}
	arrival  int64

	onChange []func()
}

// NewMessageStore creates an empty store for the given user.
func NewMessageStore(api *MessagesAPI, convAPI *ConversationsAPI, selfID string, log zerolog.Logger) *MessageStore {
	return &MessageStore{
		api:     api,
		convAPI: convAPI,
		selfID:  selfID,
		log:     log,
		seen:    make(map[string]struct{}),
	}
}

// OnChange registers a callback invoked after every timeline mutation.
func (s *MessageStore) OnChange(h func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, h)
	s.mu.Unlock()
}

func (s *MessageStore) notify() {
	s.mu.Lock()
	handlers := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// Activate switches the store to a conversation and clears the timeline.
// Bumping the epoch invalidates any in-flight history fetch for the
// previous conversation: its late response is discarded on arrival.
func (s *MessageStore) Activate(conversationID string) {
	s.mu.Lock()
	s.activeID = conversationID
	s.epoch++
	s.entries = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
	s.notify()
}

// ActiveConversation returns the id the store is scoped to, or "".
func (s *MessageStore) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Messages returns a copy of the timeline in display order.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// LoadHistory replaces the timeline from the REST page. A response that
// arrives after the user has moved on is thrown away; pending local sends
// in the timeline are kept.
func (s *MessageStore) LoadHistory(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.activeID != conversationID {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	msgs, err := s.convAPI.History(ctx, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Debug().Str("conversation", conversationID).Msg("stale history response discarded")
		return nil
	}

	var local []timelineEntry
	for _, e := range s.entries {
		if e.msg.DeliveryState == DeliveryPending || e.msg.DeliveryState == DeliveryFailed {
			local = append(local, e)
		}
	}

	s.entries = s.entries[:0]
	s.seen = make(map[string]struct{})
	for i := range msgs {
		m := msgs[i]
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		m.DeliveryState = DeliverySent
		s.seen[m.ID] = struct{}{}
		s.arrival++
		s.entries = append(s.entries, timelineEntry{msg: m, seq: s.arrival})
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].msg.SentAt.Before(s.entries[j].msg.SentAt)
	})
	for _, e := range local {
		if _, dup := s.seen[e.msg.ID]; !dup {
			s.seen[e.msg.ID] = struct{}{}
			s.insertLocked(e)
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// ApplyInbound appends a live message when it belongs to the active
// conversation and has not been seen. Off-screen conversations are the
// Conversation Store's business; their bodies are not materialized here.
// Reports whether the message was applied.
func (s *MessageStore) ApplyInbound(msg Message) bool {
	s.mu.Lock()
	if msg.ConversationID != s.activeID {
		s.mu.Unlock()
		return false
	}
	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}
	msg.DeliveryState = DeliverySent
	s.seen[msg.ID] = struct{}{}
	s.arrival++
	s.insertLocked(timelineEntry{msg: msg, seq: s.arrival})
	s.mu.Unlock()

	s.notify()
	return true
}

// insertLocked places an entry at its ordered position: after every entry
// with an earlier-or-equal SentAt. A fresh arrival always has the largest
// seq, so equal timestamps keep arrival order.
func (s *MessageStore) insertLocked(e timelineEntry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].msg.SentAt.After(e.msg.SentAt)
	})
	s.entries = append(s.entries, timelineEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// ── Sending ──────────────────────────────────────────────

// Compose validates text and appends an optimistic Pending message with a
// client-generated temporary id. Nothing touches the network here.
func (s *MessageStore) Compose(conversationID, text string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, &ValidationError{Field: "text", Reason: "empty after trim"}
	}

	msg := Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Text:           trimmed,
		Kind:           MessageText,
		SentAt:         time.Now().UTC(),
		DeliveryState:  DeliveryPending,
	}

	s.mu.Lock()
	if conversationID == s.activeID {
		s.seen[msg.ID] = struct{}{}
		s.arrival++
		s.insertLocked(timelineEntry{msg: msg, seq: s.arrival})
	}
	s.mu.Unlock()

	s.notify()
	return msg, nil
}

// Deliver issues the authoritative REST write for a Pending message. On
// success the temporary entry is replaced in place by the confirmed message
// (position preserved); on failure it flips to Failed and stays visible,
// so user input is never dropped.
func (s *MessageStore) Deliver(ctx context.Context, msg Message) (*Message, error) {
	confirmed, err := s.api.Send(ctx, &SendMessageRequest{
		ConversationID: msg.ConversationID,
		Text:           msg.Text,
		Type:           msg.Kind,
		Metadata:       msg.Metadata,
	})
	if err != nil {
		s.settle(msg.ID, nil)
		return nil, err
	}
	confirmed.DeliveryState = DeliverySent
	s.settle(msg.ID, confirmed)
	return confirmed, nil
}

// Send is Compose followed by Deliver.
func (s *MessageStore) Send(ctx context.Context, conversationID, text string) (*Message, error) {
	msg, err := s.Compose(conversationID, text)
	if err != nil {
		return nil, err
	}
	return s.Deliver(ctx, msg)
}

// settle resolves a temporary entry: confirmed replaces it in place,
// nil marks it Failed.
func (s *MessageStore) settle(tempID string, confirmed *Message) {
	s.mu.Lock()
	idx := -1
	for i := range s.entries {
		if s.entries[i].msg.ID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// The user navigated away; nothing on screen to settle.
		if confirmed != nil {
			delete(s.seen, tempID)
		}
		s.mu.Unlock()
		return
	}
	if confirmed == nil {
		s.entries[idx].msg.DeliveryState = DeliveryFailed
	} else {
		seq := s.entries[idx].seq
		s.entries[idx] = timelineEntry{msg: *confirmed, seq: seq}
		delete(s.seen, tempID)
		s.seen[confirmed.ID] = struct{}{}
	}
	s.mu.Unlock()
	s.notify()
}

// Retry re-delivers a Failed message.
func (s *MessageStore) Retry(ctx context.Context, tempID string) (*Message, error) {
	s.mu.Lock()
	var msg Message
	found := false
	for i := range s.entries {
		if s.entries[i].msg.ID == tempID && s.entries[i].msg.DeliveryState == DeliveryFailed {
			s.entries[i].msg.DeliveryState = DeliveryPending
			msg = s.entries[i].msg
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return nil, &ValidationError{Field: "message", Reason: "no failed message with that id"}
	}
	s.notify()
	return s.Deliver(ctx, msg)
}

// Discard removes a Failed message the user gave up on. Pending and Sent
// entries cannot be discarded.
func (s *MessageStore) Discard(tempID string) bool {
	s.mu.Lock()
	for i := range s.entries {
		if s.entries[i].msg.ID == tempID && s.entries[i].msg.DeliveryState == DeliveryFailed {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.seen, tempID)
			s.mu.Unlock()
			s.notify()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// Pending returns the Pending messages in timeline order, oldest first.
// The Messenger re-delivers these after a reconnect.
func (s *MessageStore) Pending() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, e := range s.entries {
		if e.msg.DeliveryState == DeliveryPending {
			out = append(out, e.msg)
		}
	}
	return out
}
