package unichat

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DirectConversationID derives the id of a direct conversation from its two
// participants. The pair is sorted first, so both clients converge on the
// same id without a round-trip.
func DirectConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// recentIDs is a bounded window of recently applied message ids, used to
// drop duplicate deliveries.
type recentIDs struct {
	limit int
	order []string
	seen  map[string]struct{}
}

func newRecentIDs(limit int) *recentIDs {
	return &recentIDs{limit: limit, seen: make(map[string]struct{})}
}

// add records id and reports whether it was new.
func (r *recentIDs) add(id string) bool {
	if _, dup := r.seen[id]; dup {
		return false
	}
	r.seen[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.limit {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, evict)
	}
	return true
}

// ============================================================================
// ConversationStore
// ============================================================================

// ConversationStore holds the conversation summaries: the REST snapshot is
// authoritative, live events keep it current between snapshots.
type ConversationStore struct {
	mu     sync.Mutex
	api    *ConversationsAPI
	selfID string
	log    zerolog.Logger

	convs  map[string]*Conversation
	recent *recentIDs

	onChange []func()
}

// NewConversationStore creates an empty store for the given user.
func NewConversationStore(api *ConversationsAPI, selfID string, log zerolog.Logger) *ConversationStore {
	return &ConversationStore{
		api:    api,
		selfID: selfID,
		log:    log,
		convs:  make(map[string]*Conversation),
		recent: newRecentIDs(512),
	}
}

// OnChange registers a callback invoked after every store mutation.
func (s *ConversationStore) OnChange(h func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, h)
	s.mu.Unlock()
}

func (s *ConversationStore) notify() {
	s.mu.Lock()
	handlers := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// LoadSnapshot replaces the store wholesale from the REST list. This is the
// recovery path after any desync; there is no partial merge. Unconfirmed
// provisional conversations survive the replace unless the snapshot now
// carries them.
func (s *ConversationStore) LoadSnapshot(ctx context.Context) error {
	convs, err := s.api.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	next := make(map[string]*Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		next[c.ID] = &c
	}
	for id, c := range s.convs {
		if c.Provisional {
			if _, confirmed := next[id]; !confirmed {
				next[id] = c
			}
		}
	}
	s.convs = next
	s.mu.Unlock()

	s.notify()
	return nil
}

// List returns the conversations ordered most-recently-updated first,
// pinned ones on top.
func (s *ConversationStore) List() []Conversation {
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Get returns a copy of one conversation.
func (s *ConversationStore) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// TotalUnread sums unread counts across all conversations.
func (s *ConversationStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}

// IsMuted reports whether a conversation is muted. Unknown conversations
// are not muted.
func (s *ConversationStore) IsMuted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	return ok && c.Muted
}

// ApplyInbound folds an inbound message into the summary: last-message
// preview, recency, and the unread counter when the conversation is not the
// active one. Duplicate deliveries of the same message id are dropped.
func (s *ConversationStore) ApplyInbound(msg *Message, activeConvID string) {
	s.mu.Lock()
	if !s.recent.add(msg.ID) {
		s.mu.Unlock()
		return
	}

	c, ok := s.convs[msg.ConversationID]
	if !ok {
		// Message for a conversation we have not seen yet: materialize a
		// stub; the next snapshot fills in the rest.
		c = stubConversation(msg.ConversationID)
		s.convs[c.ID] = c
	}

	// First round-tripped message confirms a provisional conversation.
	c.Provisional = false
	c.LastMessage = msg.summary()
	if msg.SentAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.SentAt
	}
	if msg.ConversationID != activeConvID && msg.SenderID != s.selfID {
		c.UnreadCount++
	}
	s.mu.Unlock()

	s.notify()
}

func stubConversation(id string) *Conversation {
	c := &Conversation{ID: id, Kind: KindGroup}
	if rest, ok := strings.CutPrefix(id, "dm:"); ok {
		c.Kind = KindDirect
		if a, b, ok := strings.Cut(rest, ":"); ok {
			c.ParticipantIDs = []string{a, b}
		}
	}
	return c
}

// StartProvisional creates a client-side direct conversation with the
// deterministic id. Starting the same chat twice, or from either end,
// yields the same entry, never a duplicate.
func (s *ConversationStore) StartProvisional(targetUserID, displayName string) Conversation {
	id := DirectConversationID(s.selfID, targetUserID)

	s.mu.Lock()
	if c, ok := s.convs[id]; ok {
		out := *c
		s.mu.Unlock()
		return out
	}
	a, b := s.selfID, targetUserID
	if b < a {
		a, b = b, a
	}
	c := &Conversation{
		ID:             id,
		Kind:           KindDirect,
		DisplayName:    displayName,
		ParticipantIDs: []string{a, b},
		Provisional:    true,
	}
	s.convs[id] = c
	out := *c
	s.mu.Unlock()

	s.notify()
	return out
}

// AbandonProvisional garbage-collects a provisional conversation that never
// saw a message. Confirmed conversations are untouched.
func (s *ConversationStore) AbandonProvisional(id string) {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok || !c.Provisional || c.LastMessage != nil {
		s.mu.Unlock()
		return
	}
	delete(s.convs, id)
	s.mu.Unlock()

	s.notify()
}

// MarkRead optimistically zeroes the unread counter and confirms with the
// server. On failure the prior count is restored and *SyncError returned;
// the caller decides whether to surface it (the UI reverts silently).
func (s *ConversationStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	prior := c.UnreadCount
	if prior == 0 {
		s.mu.Unlock()
		return nil
	}
	c.UnreadCount = 0
	s.mu.Unlock()
	s.notify()

	if err := s.api.MarkRead(ctx, id); err != nil {
		s.mu.Lock()
		if c, ok := s.convs[id]; ok {
			c.UnreadCount = prior
		}
		s.mu.Unlock()
		s.notify()
		s.log.Warn().Str("conversation", id).Err(err).Msg("mark read rejected, count restored")
		return &SyncError{Op: "mark read", Err: err}
	}
	return nil
}
