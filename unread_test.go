package unichat_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	unichat "github.com/unichat-dev/unichat-go"
)

func newAggregator(t *testing.T) (*unichat.UnreadAggregator, *unichat.ConversationStore, *unichat.NotificationBridge) {
	t.Helper()
	client, _ := newTestClient(t, http.NotFoundHandler())
	convs := unichat.NewConversationStore(client.Conversations, "me", zerolog.Nop())
	notifs := unichat.NewNotificationBridge(client.Notifications, "me", convs.IsMuted, zerolog.Nop())
	return unichat.NewUnreadAggregator(convs, notifs), convs, notifs
}

func TestUnreadAggregator_Total(t *testing.T) {
	agg, convs, notifs := newAggregator(t)
	now := time.Now().UTC()

	// One unread message in c1, two in c2, each delivered with a
	// message-type notification; plus one announcement.
	convs.ApplyInbound(inbound("m1", "c1", "alice", now), "")
	convs.ApplyInbound(inbound("m2", "c2", "bob", now), "")
	convs.ApplyInbound(inbound("m3", "c2", "bob", now), "")
	for _, id := range []string{"m1", "m2", "m3"} {
		notifs.IngestLive(unichat.NotificationRecord{
			ID:        "note-" + id,
			Type:      unichat.NotifyMessage,
			CreatedAt: now,
		})
	}
	notifs.IngestLive(unichat.NotificationRecord{
		ID:        "ann-1",
		Type:      unichat.NotifyAnnouncement,
		CreatedAt: now,
	})

	// 3 conversation unread + 1 announcement; the message-type records must
	// not double-count.
	if got := agg.Total(); got != 4 {
		t.Errorf("Total = %d, want 4", got)
	}
}

func TestUnreadAggregator_OnTotal(t *testing.T) {
	agg, convs, _ := newAggregator(t)
	now := time.Now().UTC()

	var reported []int
	agg.OnTotal(func(total int) { reported = append(reported, total) })

	convs.ApplyInbound(inbound("m1", "c1", "alice", now), "")
	convs.ApplyInbound(inbound("m2", "c1", "alice", now), "")
	// Own message: total unchanged, no callback.
	convs.ApplyInbound(inbound("m3", "c1", "me", now), "")

	want := []int{1, 2}
	if len(reported) != len(want) {
		t.Fatalf("reported = %v, want %v", reported, want)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Errorf("reported[%d] = %d, want %d", i, reported[i], want[i])
		}
	}
}
