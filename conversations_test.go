package unichat_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	unichat "github.com/unichat-dev/unichat-go"
)

func newConvStore(t *testing.T, handler http.Handler) *unichat.ConversationStore {
	t.Helper()
	client, _ := newTestClient(t, handler)
	return unichat.NewConversationStore(client.Conversations, "me", zerolog.Nop())
}

func inbound(id, conv, sender string, at time.Time) *unichat.Message {
	return &unichat.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Text:           "text " + id,
		Kind:           unichat.MessageText,
		SentAt:         at,
	}
}

func TestDirectConversationID(t *testing.T) {
	if got := unichat.DirectConversationID("alice", "bob"); got != "dm:alice:bob" {
		t.Errorf("DirectConversationID(alice, bob) = %q", got)
	}
	a := unichat.DirectConversationID("alice", "bob")
	b := unichat.DirectConversationID("bob", "alice")
	if a != b {
		t.Errorf("id depends on argument order: %q vs %q", a, b)
	}
}

func TestConversationStore_ApplyInbound(t *testing.T) {
	now := time.Now().UTC()

	t.Run("increments unread when inactive", func(t *testing.T) {
		s := newConvStore(t, http.NotFoundHandler())
		s.ApplyInbound(inbound("m1", "c1", "alice", now), "")
		c, ok := s.Get("c1")
		if !ok {
			t.Fatal("conversation not materialized")
		}
		if c.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d, want 1", c.UnreadCount)
		}
		if c.LastMessage == nil || c.LastMessage.ID != "m1" {
			t.Errorf("LastMessage = %+v, want m1", c.LastMessage)
		}
	})

	t.Run("active conversation stays read", func(t *testing.T) {
		s := newConvStore(t, http.NotFoundHandler())
		s.ApplyInbound(inbound("m1", "c1", "alice", now), "c1")
		c, _ := s.Get("c1")
		if c.UnreadCount != 0 {
			t.Errorf("UnreadCount = %d, want 0 for active conversation", c.UnreadCount)
		}
	})

	t.Run("own messages never count", func(t *testing.T) {
		s := newConvStore(t, http.NotFoundHandler())
		s.ApplyInbound(inbound("m1", "c1", "me", now), "")
		c, _ := s.Get("c1")
		if c.UnreadCount != 0 {
			t.Errorf("UnreadCount = %d, want 0 for own message", c.UnreadCount)
		}
	})

	t.Run("duplicate delivery is idempotent", func(t *testing.T) {
		s := newConvStore(t, http.NotFoundHandler())
		msg := inbound("m1", "c1", "alice", now)
		s.ApplyInbound(msg, "")
		s.ApplyInbound(msg, "")
		c, _ := s.Get("c1")
		if c.UnreadCount != 1 {
			t.Errorf("UnreadCount = %d after duplicate, want 1", c.UnreadCount)
		}
	})

	t.Run("unknown direct conversation gets a stub", func(t *testing.T) {
		s := newConvStore(t, http.NotFoundHandler())
		id := unichat.DirectConversationID("me", "alice")
		s.ApplyInbound(inbound("m1", id, "alice", now), "")
		c, ok := s.Get(id)
		if !ok {
			t.Fatal("stub not created")
		}
		if c.Kind != unichat.KindDirect {
			t.Errorf("Kind = %q, want direct", c.Kind)
		}
		if len(c.ParticipantIDs) != 2 {
			t.Errorf("ParticipantIDs = %v, want both participants", c.ParticipantIDs)
		}
	})
}

func TestConversationStore_StartProvisional(t *testing.T) {
	s := newConvStore(t, http.NotFoundHandler())

	first := s.StartProvisional("alice", "Alice")
	second := s.StartProvisional("alice", "Alice")
	if first.ID != second.ID {
		t.Fatalf("starting twice produced different ids: %q vs %q", first.ID, second.ID)
	}
	if !first.Provisional {
		t.Error("expected a provisional conversation")
	}

	t.Run("first message confirms", func(t *testing.T) {
		s.ApplyInbound(inbound("m1", first.ID, "alice", time.Now()), first.ID)
		c, _ := s.Get(first.ID)
		if c.Provisional {
			t.Error("conversation still provisional after a round-tripped message")
		}
		// Confirmed conversations cannot be abandoned.
		s.AbandonProvisional(first.ID)
		if _, ok := s.Get(first.ID); !ok {
			t.Error("confirmed conversation was removed")
		}
	})

	t.Run("abandon removes empty provisional", func(t *testing.T) {
		conv := s.StartProvisional("carol", "Carol")
		s.AbandonProvisional(conv.ID)
		if _, ok := s.Get(conv.ID); ok {
			t.Error("empty provisional conversation survived abandon")
		}
	})
}

func TestConversationStore_MarkRead(t *testing.T) {
	t.Run("success zeroes the counter", func(t *testing.T) {
		s := newConvStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/read") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			writeOK(t, w, nil)
		}))
		s.ApplyInbound(inbound("m1", "c1", "alice", time.Now()), "")

		if err := s.MarkRead(context.Background(), "c1"); err != nil {
			t.Fatalf("MarkRead returned error: %v", err)
		}
		c, _ := s.Get("c1")
		if c.UnreadCount != 0 {
			t.Errorf("UnreadCount = %d, want 0", c.UnreadCount)
		}
	})

	t.Run("failure restores the counter", func(t *testing.T) {
		s := newConvStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeErr(t, w, "INTERNAL", "boom")
		}))
		s.ApplyInbound(inbound("m1", "c1", "alice", time.Now()), "")
		s.ApplyInbound(inbound("m2", "c1", "alice", time.Now()), "")

		err := s.MarkRead(context.Background(), "c1")
		var syncErr *unichat.SyncError
		if !errors.As(err, &syncErr) {
			t.Fatalf("expected *SyncError, got %T: %v", err, err)
		}
		c, _ := s.Get("c1")
		if c.UnreadCount != 2 {
			t.Errorf("UnreadCount = %d after rollback, want 2", c.UnreadCount)
		}
	})

	t.Run("already read is a no-op", func(t *testing.T) {
		s := newConvStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("server should not be called for an already-read conversation")
		}))
		s.ApplyInbound(inbound("m1", "c1", "me", time.Now()), "")
		if err := s.MarkRead(context.Background(), "c1"); err != nil {
			t.Fatalf("MarkRead returned error: %v", err)
		}
	})
}

func TestConversationStore_LoadSnapshot(t *testing.T) {
	now := time.Now().UTC()
	snapshot := []unichat.Conversation{
		{ID: "c1", Kind: unichat.KindGroup, DisplayName: "Algorithms", UnreadCount: 3, UpdatedAt: now},
		{ID: "c2", Kind: unichat.KindDirect, DisplayName: "Alice", UpdatedAt: now.Add(-time.Hour)},
	}
	s := newConvStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOK(t, w, snapshot)
	}))

	prov := s.StartProvisional("dave", "Dave")

	if err := s.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	if got := s.TotalUnread(); got != 3 {
		t.Errorf("TotalUnread = %d, want 3", got)
	}
	if _, ok := s.Get(prov.ID); !ok {
		t.Error("provisional conversation did not survive the snapshot")
	}
	if _, ok := s.Get("c2"); !ok {
		t.Error("snapshot conversation missing")
	}
}

func TestConversationStore_ListOrder(t *testing.T) {
	now := time.Now().UTC()
	s := newConvStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOK(t, w, []unichat.Conversation{
			{ID: "old", UpdatedAt: now.Add(-2 * time.Hour)},
			{ID: "pinned", Pinned: true, UpdatedAt: now.Add(-3 * time.Hour)},
			{ID: "fresh", UpdatedAt: now},
		})
	}))
	if err := s.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	want := []string{"pinned", "fresh", "old"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
}
