package unichat

import "sync"

// PresenceStatus distinguishes "known offline" from "never told": a tracker
// that has not received a snapshot yet must not report users as offline.
type PresenceStatus int

const (
	PresenceUnknown PresenceStatus = iota
	PresenceOffline
	PresenceOnline
)

// PresenceTracker holds the set of online users, fed only by live events.
// Nothing is persisted; a reconnect resets it to unknown until the server
// resends the full set.
type PresenceTracker struct {
	mu       sync.Mutex
	known    bool
	online   map[string]struct{}
	onChange []func()
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

// OnChange registers a callback invoked after every presence mutation.
func (p *PresenceTracker) OnChange(h func()) {
	p.mu.Lock()
	p.onChange = append(p.onChange, h)
	p.mu.Unlock()
}

func (p *PresenceTracker) notify() {
	p.mu.Lock()
	handlers := append([]func(){}, p.onChange...)
	p.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// ApplySnapshot replaces the whole set from the server's online-users event.
func (p *PresenceTracker) ApplySnapshot(ids []string) {
	p.mu.Lock()
	p.known = true
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.online[id] = struct{}{}
	}
	p.mu.Unlock()
	p.notify()
}

// ApplyJoin records a user coming online between snapshots.
func (p *PresenceTracker) ApplyJoin(id string) {
	p.mu.Lock()
	p.online[id] = struct{}{}
	p.mu.Unlock()
	p.notify()
}

// ApplyLeave records a user going offline between snapshots.
func (p *PresenceTracker) ApplyLeave(id string) {
	p.mu.Lock()
	delete(p.online, id)
	p.mu.Unlock()
	p.notify()
}

// Reset drops back to the unknown state. Called on every disconnect so
// stale presence never survives a reconnect.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.known = false
	p.online = make(map[string]struct{})
	p.mu.Unlock()
	p.notify()
}

// Status reports a user's presence. Before the first snapshot everyone is
// Unknown, not Offline.
func (p *PresenceTracker) Status(id string) PresenceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.known {
		return PresenceUnknown
	}
	if _, ok := p.online[id]; ok {
		return PresenceOnline
	}
	return PresenceOffline
}

// Online returns the ids currently known online.
func (p *PresenceTracker) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}
