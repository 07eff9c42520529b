package unichat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// NotificationBridge converts server-pushed notification records into local
// state and alerting. Records are server-owned; the only local mutation is
// the optimistic IsRead flip, reconciled against the server.
type NotificationBridge struct {
	mu     sync.Mutex
	api    *NotificationsAPI
	userID string
	log    zerolog.Logger

	records []*NotificationRecord // newest first
	byID    map[string]*NotificationRecord

	// muted suppresses alerting for records tied to a muted conversation.
	muted func(conversationID string) bool

	onChange []func()
	onAlert  []func(NotificationRecord)
}

// NewNotificationBridge creates an empty bridge for the given user. muted
// may be nil when no conversation store collaborates.
func NewNotificationBridge(api *NotificationsAPI, userID string, muted func(string) bool, log zerolog.Logger) *NotificationBridge {
	return &NotificationBridge{
		api:    api,
		userID: userID,
		muted:  muted,
		log:    log,
		byID:   make(map[string]*NotificationRecord),
	}
}

// OnChange registers a callback invoked after every record mutation.
func (b *NotificationBridge) OnChange(h func()) {
	b.mu.Lock()
	b.onChange = append(b.onChange, h)
	b.mu.Unlock()
}

// OnAlert registers a callback fired for live records that warrant user
// attention (sound, desktop notification). Snapshot loads never alert.
func (b *NotificationBridge) OnAlert(h func(NotificationRecord)) {
	b.mu.Lock()
	b.onAlert = append(b.onAlert, h)
	b.mu.Unlock()
}

func (b *NotificationBridge) notify() {
	b.mu.Lock()
	handlers := append([]func(){}, b.onChange...)
	b.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// LoadSnapshot replaces all records from the REST list.
func (b *NotificationBridge) LoadSnapshot(ctx context.Context) error {
	records, err := b.api.List(ctx, b.userID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.records = make([]*NotificationRecord, 0, len(records))
	b.byID = make(map[string]*NotificationRecord, len(records))
	for i := range records {
		r := records[i]
		if _, dup := b.byID[r.ID]; dup {
			continue
		}
		b.byID[r.ID] = &r
		b.records = append(b.records, &r)
	}
	b.mu.Unlock()
	b.notify()
	return nil
}

// IngestLive prepends a pushed record and triggers alerting. Duplicate ids
// are dropped.
func (b *NotificationBridge) IngestLive(rec NotificationRecord) {
	b.mu.Lock()
	if _, dup := b.byID[rec.ID]; dup {
		b.mu.Unlock()
		return
	}
	r := rec
	b.byID[r.ID] = &r
	b.records = append([]*NotificationRecord{&r}, b.records...)
	alerts := append([]func(NotificationRecord){}, b.onAlert...)
	b.mu.Unlock()

	b.notify()

	if rec.IsRead {
		return
	}
	if conv := rec.ConversationID(); conv != "" && b.muted != nil && b.muted(conv) {
		return
	}
	for _, h := range alerts {
		h(rec)
	}
}

// Records returns a copy of the records, newest first.
func (b *NotificationBridge) Records() []NotificationRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]NotificationRecord, len(b.records))
	for i, r := range b.records {
		out[i] = *r
	}
	return out
}

// UnseenCount counts unread records; when excludeMessages is set,
// message-type records are left out (they are a delivery mechanism for
// conversation unread, not an independent source).
func (b *NotificationBridge) UnseenCount(excludeMessages bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, r := range b.records {
		if r.IsRead {
			continue
		}
		if excludeMessages && r.Type == NotifyMessage {
			continue
		}
		count++
	}
	return count
}

// MarkSeen optimistically flips one record and confirms with the server;
// the flip is rolled back on failure.
func (b *NotificationBridge) MarkSeen(ctx context.Context, id string) error {
	b.mu.Lock()
	r, ok := b.byID[id]
	if !ok || r.IsRead {
		b.mu.Unlock()
		return nil
	}
	r.IsRead = true
	b.mu.Unlock()
	b.notify()

	if err := b.api.MarkSeen(ctx, id); err != nil {
		b.mu.Lock()
		if r, ok := b.byID[id]; ok {
			r.IsRead = false
		}
		b.mu.Unlock()
		b.notify()
		b.log.Warn().Str("notification", id).Err(err).Msg("mark seen rejected, flipped back")
		return &SyncError{Op: "mark seen", Err: err}
	}
	return nil
}

// MarkAllSeen is the bulk form of MarkSeen with the same rollback contract:
// on failure every record returns to its prior read state.
func (b *NotificationBridge) MarkAllSeen(ctx context.Context) error {
	b.mu.Lock()
	prior := make(map[string]bool, len(b.records))
	for _, r := range b.records {
		prior[r.ID] = r.IsRead
		r.IsRead = true
	}
	b.mu.Unlock()
	b.notify()

	if err := b.api.MarkAllSeen(ctx, b.userID); err != nil {
		b.mu.Lock()
		for _, r := range b.records {
			if wasRead, ok := prior[r.ID]; ok {
				r.IsRead = wasRead
			}
		}
		b.mu.Unlock()
		b.notify()
		b.log.Warn().Err(err).Msg("mark all seen rejected, flipped back")
		return &SyncError{Op: "mark all seen", Err: err}
	}
	return nil
}
