package unichat

import "sync"

// UnreadAggregator derives the total unread badge from the Conversation
// Store and the Notification Bridge. The total is recomputed on every
// change notification and never cached independently, so it cannot drift.
//
// Message-type notification records are treated as a delivery mechanism for
// conversation unread, not as a second unread source: the same message
// never counts twice.
type UnreadAggregator struct {
	convs  *ConversationStore
	notifs *NotificationBridge

	mu       sync.Mutex
	last     int
	reported bool
	onTotal  []func(int)
}

// NewUnreadAggregator wires the aggregator to both sources.
func NewUnreadAggregator(convs *ConversationStore, notifs *NotificationBridge) *UnreadAggregator {
	a := &UnreadAggregator{convs: convs, notifs: notifs}
	convs.OnChange(a.recompute)
	notifs.OnChange(a.recompute)
	return a
}

// OnTotal registers a badge callback, invoked whenever the derived total
// changes.
func (a *UnreadAggregator) OnTotal(h func(total int)) {
	a.mu.Lock()
	a.onTotal = append(a.onTotal, h)
	a.mu.Unlock()
}

// Total computes the current total from its sources.
func (a *UnreadAggregator) Total() int {
	return a.convs.TotalUnread() + a.notifs.UnseenCount(true)
}

func (a *UnreadAggregator) recompute() {
	total := a.Total()

	a.mu.Lock()
	if a.reported && total == a.last {
		a.mu.Unlock()
		return
	}
	a.last = total
	a.reported = true
	handlers := append([]func(int){}, a.onTotal...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(total)
	}
}
