package studio

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tracklab/internal/bus"
)

const (
	// defaultHeartbeat is how often the leader renews its claim.
	defaultHeartbeat = 5 * time.Second

	// defaultLeaderExpiry is how long a silent leader keeps its claim
	// before peers take over.
	defaultLeaderExpiry = 15 * time.Second
)

// LeaderElector designates one window per composition as the autosave
// owner. Every participating window claims leadership on the shared
// broadcast channel; the lexically lowest session id wins. The leader
// renews with a heartbeat, and peers claim leadership when the heartbeat
// expires.
type LeaderElector struct {
	bus       bus.Bus
	sessionID string
	log       *slog.Logger
	heartbeat time.Duration
	expiry    time.Duration

	mu       sync.Mutex
	leaderID string
	lastBeat time.Time
	running  bool
	stop     chan struct{}
	unsub    func()
}

// NewLeaderElector returns an elector for this session. It does not
// participate until Start is called.
func NewLeaderElector(b bus.Bus, sessionID string, log *slog.Logger) *LeaderElector {
	return &LeaderElector{
		bus:       b,
		sessionID: sessionID,
		log:       log,
		heartbeat: defaultHeartbeat,
		expiry:    defaultLeaderExpiry,
	}
}

// Start joins the election: claims leadership immediately and defers as
// soon as a lower session id is heard.
func (l *LeaderElector) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.leaderID = l.sessionID
	l.lastBeat = time.Now()
	l.stop = make(chan struct{})
	l.unsub = l.bus.Subscribe(TopicAutosaveLeader, l.onBeat)
	stop := l.stop
	l.mu.Unlock()

	l.publishBeat()
	go l.run(stop)
}

// Stop leaves the election. If this session was the leader, peers take over
// once the heartbeat expires.
func (l *LeaderElector) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	l.stop = nil
	unsub := l.unsub
	l.unsub = nil
	l.leaderID = ""
	l.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// IsLeader reports whether this session currently holds the autosave lease.
func (l *LeaderElector) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && l.leaderID == l.sessionID
}

// LeaderID returns the session id currently believed to be the leader.
func (l *LeaderElector) LeaderID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaderID
}

func (l *LeaderElector) onBeat(raw json.RawMessage) {
	var beat leaderBeat
	if err := json.Unmarshal(raw, &beat); err != nil || beat.SessionID == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	expired := time.Since(l.lastBeat) > l.expiry
	if beat.SessionID == l.leaderID || beat.SessionID < l.leaderID || expired {
		if beat.SessionID != l.leaderID {
			l.log.Debug("autosave leader changed",
				slog.String("leader", beat.SessionID),
				slog.String("session", l.sessionID))
		}
		l.leaderID = beat.SessionID
		l.lastBeat = time.Now()
	}
}

func (l *LeaderElector) run(stop chan struct{}) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.tick()
		case <-stop:
			return
		}
	}
}

// tick claims leadership when the current leader has gone silent (or this
// session outranks it) and renews the heartbeat while leading.
func (l *LeaderElector) tick() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	expired := time.Since(l.lastBeat) > l.expiry
	if expired || l.sessionID < l.leaderID {
		l.leaderID = l.sessionID
	}
	leading := l.leaderID == l.sessionID
	if leading {
		l.lastBeat = time.Now()
	}
	l.mu.Unlock()

	if leading {
		l.publishBeat()
	}
}

func (l *LeaderElector) publishBeat() {
	beat := leaderBeat{SessionID: l.sessionID, At: time.Now()}
	if err := l.bus.Publish(TopicAutosaveLeader, beat); err != nil {
		l.log.Warn("leader heartbeat failed", slog.String("error", err.Error()))
	}
}
