package unichat_test

import (
	"testing"

	unichat "github.com/unichat-dev/unichat-go"
)

func TestPresenceTracker(t *testing.T) {
	p := unichat.NewPresenceTracker()

	t.Run("unknown before first snapshot", func(t *testing.T) {
		if got := p.Status("alice"); got != unichat.PresenceUnknown {
			t.Errorf("Status = %v before snapshot, want Unknown", got)
		}
	})

	t.Run("snapshot distinguishes online from offline", func(t *testing.T) {
		p.ApplySnapshot([]string{"alice", "bob"})
		if got := p.Status("alice"); got != unichat.PresenceOnline {
			t.Errorf("Status(alice) = %v, want Online", got)
		}
		if got := p.Status("carol"); got != unichat.PresenceOffline {
			t.Errorf("Status(carol) = %v, want Offline", got)
		}
	})

	t.Run("join and leave between snapshots", func(t *testing.T) {
		p.ApplyJoin("carol")
		if got := p.Status("carol"); got != unichat.PresenceOnline {
			t.Errorf("Status(carol) = %v after join, want Online", got)
		}
		p.ApplyLeave("alice")
		if got := p.Status("alice"); got != unichat.PresenceOffline {
			t.Errorf("Status(alice) = %v after leave, want Offline", got)
		}
	})

	t.Run("reset returns to unknown", func(t *testing.T) {
		p.Reset()
		if got := p.Status("bob"); got != unichat.PresenceUnknown {
			t.Errorf("Status = %v after reset, want Unknown", got)
		}
		if got := p.Online(); len(got) != 0 {
			t.Errorf("Online = %v after reset, want empty", got)
		}
	})
}

func TestPresenceTracker_OnChange(t *testing.T) {
	p := unichat.NewPresenceTracker()
	calls := 0
	p.OnChange(func() { calls++ })

	p.ApplySnapshot([]string{"alice"})
	p.ApplyJoin("bob")
	p.Reset()

	if calls != 3 {
		t.Errorf("OnChange fired %d times, want 3", calls)
	}
}
