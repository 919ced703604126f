package studio

import (
	"testing"
	"time"

	"tracklab/internal/bus"
)

func newTestElector(ch *bus.Channel, sessionID string) *LeaderElector {
	l := NewLeaderElector(ch.Attach(), sessionID, discardLogger())
	l.heartbeat = 10 * time.Millisecond
	l.expiry = 60 * time.Millisecond
	return l
}

func TestLeaderElector_lowest_id_wins(t *testing.T) {
	ch := bus.NewChannel()
	a := newTestElector(ch, "a")
	b := newTestElector(ch, "b")

	a.Start()
	b.Start()
	defer a.Stop()
	defer b.Stop()

	waitFor(t, func() bool {
		return a.IsLeader() && !b.IsLeader() && b.LeaderID() == "a"
	})
}

func TestLeaderElector_takeover_on_expiry(t *testing.T) {
	ch := bus.NewChannel()
	a := newTestElector(ch, "a")
	b := newTestElector(ch, "b")

	a.Start()
	b.Start()
	waitFor(t, func() bool { return a.IsLeader() && !b.IsLeader() })

	// The leader goes silent; the follower claims the lease once the
	// heartbeat expires.
	a.Stop()
	waitFor(t, func() bool { return b.IsLeader() })
	b.Stop()
}

func TestLeaderElector_single_window_leads(t *testing.T) {
	ch := bus.NewChannel()
	a := newTestElector(ch, "a")

	if a.IsLeader() {
		t.Error("not a leader before Start")
	}
	a.Start()
	if !a.IsLeader() {
		t.Error("a lone window leads immediately")
	}
	a.Stop()
	if a.IsLeader() {
		t.Error("not a leader after Stop")
	}
}

func TestLeaderElector_late_lower_id_takes_over(t *testing.T) {
	ch := bus.NewChannel()
	b := newTestElector(ch, "b")
	b.Start()
	defer b.Stop()
	waitFor(t, func() bool { return b.IsLeader() })

	// A window with a lower session id joins afterwards and wins.
	a := newTestElector(ch, "a")
	a.Start()
	defer a.Stop()
	waitFor(t, func() bool { return a.IsLeader() && !b.IsLeader() })
}
