package unichat_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	unichat "github.com/unichat-dev/unichat-go"
)

func newBridge(t *testing.T, handler http.Handler, muted func(string) bool) *unichat.NotificationBridge {
	t.Helper()
	client, _ := newTestClient(t, handler)
	return unichat.NewNotificationBridge(client.Notifications, "me", muted, zerolog.Nop())
}

func record(id string, typ unichat.NotificationType, read bool) unichat.NotificationRecord {
	return unichat.NotificationRecord{
		ID:        id,
		Type:      typ,
		Message:   "note " + id,
		CreatedAt: time.Now().UTC(),
		IsRead:    read,
	}
}

func TestNotificationBridge_IngestLive(t *testing.T) {
	b := newBridge(t, http.NotFoundHandler(), nil)

	var alerts []string
	b.OnAlert(func(r unichat.NotificationRecord) { alerts = append(alerts, r.ID) })

	b.IngestLive(record("n1", unichat.NotifyAnnouncement, false))
	b.IngestLive(record("n2", unichat.NotifyRequest, false))
	b.IngestLive(record("n2", unichat.NotifyRequest, false)) // duplicate push

	records := b.Records()
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ID != "n2" || records[1].ID != "n1" {
		t.Errorf("order = [%s %s], want newest first", records[0].ID, records[1].ID)
	}
	if len(alerts) != 2 {
		t.Errorf("alerts = %v, want one per unique record", alerts)
	}
}

func TestNotificationBridge_AlertSuppression(t *testing.T) {
	t.Run("already-read records stay silent", func(t *testing.T) {
		b := newBridge(t, http.NotFoundHandler(), nil)
		alerted := false
		b.OnAlert(func(unichat.NotificationRecord) { alerted = true })
		b.IngestLive(record("n1", unichat.NotifyAnnouncement, true))
		if alerted {
			t.Error("alert fired for an already-read record")
		}
	})

	t.Run("muted conversations stay silent", func(t *testing.T) {
		b := newBridge(t, http.NotFoundHandler(), func(id string) bool { return id == "c-muted" })
		alerted := false
		b.OnAlert(func(unichat.NotificationRecord) { alerted = true })

		rec := record("n1", unichat.NotifyMessage, false)
		rec.Metadata = map[string]any{"conversationId": "c-muted"}
		b.IngestLive(rec)
		if alerted {
			t.Error("alert fired for a muted conversation")
		}
		if len(b.Records()) != 1 {
			t.Error("muted record should still be stored")
		}
	})
}

func TestNotificationBridge_UnseenCount(t *testing.T) {
	b := newBridge(t, http.NotFoundHandler(), nil)
	b.IngestLive(record("n1", unichat.NotifyMessage, false))
	b.IngestLive(record("n2", unichat.NotifyAnnouncement, false))
	b.IngestLive(record("n3", unichat.NotifyForumLike, true))

	if got := b.UnseenCount(false); got != 2 {
		t.Errorf("UnseenCount(false) = %d, want 2", got)
	}
	if got := b.UnseenCount(true); got != 1 {
		t.Errorf("UnseenCount(true) = %d, want 1 (message-type excluded)", got)
	}
}

func TestNotificationBridge_MarkSeen(t *testing.T) {
	t.Run("success flips the record", func(t *testing.T) {
		b := newBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeOK(t, w, nil)
		}), nil)
		b.IngestLive(record("n1", unichat.NotifyAnnouncement, false))

		if err := b.MarkSeen(context.Background(), "n1"); err != nil {
			t.Fatalf("MarkSeen returned error: %v", err)
		}
		if got := b.UnseenCount(false); got != 0 {
			t.Errorf("UnseenCount = %d, want 0", got)
		}
	})

	t.Run("failure rolls the flip back", func(t *testing.T) {
		b := newBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeErr(t, w, "INTERNAL", "boom")
		}), nil)
		b.IngestLive(record("n1", unichat.NotifyAnnouncement, false))

		err := b.MarkSeen(context.Background(), "n1")
		var syncErr *unichat.SyncError
		if !errors.As(err, &syncErr) {
			t.Fatalf("expected *SyncError, got %T: %v", err, err)
		}
		if got := b.UnseenCount(false); got != 1 {
			t.Errorf("UnseenCount = %d after rollback, want 1", got)
		}
	})
}

func TestNotificationBridge_MarkAllSeen(t *testing.T) {
	t.Run("failure restores prior state per record", func(t *testing.T) {
		b := newBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeErr(t, w, "INTERNAL", "boom")
		}), nil)
		b.IngestLive(record("n1", unichat.NotifyAnnouncement, false))
		b.IngestLive(record("n2", unichat.NotifyRequest, true))

		if err := b.MarkAllSeen(context.Background()); err == nil {
			t.Fatal("expected MarkAllSeen to fail")
		}
		records := b.Records()
		for _, r := range records {
			switch r.ID {
			case "n1":
				if r.IsRead {
					t.Error("n1 should have rolled back to unread")
				}
			case "n2":
				if !r.IsRead {
					t.Error("n2 was read before the bulk call and must stay read")
				}
			}
		}
	})
}

func TestNotificationBridge_LoadSnapshot(t *testing.T) {
	b := newBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeOK(t, w, []unichat.NotificationRecord{
			record("n1", unichat.NotifyAnnouncement, false),
			record("n2", unichat.NotifyGroupInvite, true),
		})
	}), nil)

	alerted := false
	b.OnAlert(func(unichat.NotificationRecord) { alerted = true })

	if err := b.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if len(b.Records()) != 2 {
		t.Errorf("len(records) = %d, want 2", len(b.Records()))
	}
	if alerted {
		t.Error("snapshot load must never alert")
	}
}
