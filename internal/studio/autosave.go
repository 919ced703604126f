package studio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultAutosaveInterval is how often the autosave tick fires.
	DefaultAutosaveInterval = 60 * time.Second

	// DefaultAutosaveInitialDelay is the one-shot delay before the first
	// tick after a composition becomes active.
	DefaultAutosaveInitialDelay = 10 * time.Second
)

// Autosaver runs the periodic background save. A tick saves only when
// autosave is enabled, a composition is active, unsaved changes exist, and
// no save is already in flight. With a leader elector attached, only the
// elected leader window actually saves, so sibling windows do not autosave
// the same composition redundantly.
//
// Autosave failures are logged and never surfaced to the user; the dirty
// flag stays set, so the next tick retries and transient backend failures
// heal themselves.
type Autosaver struct {
	coord        *Coordinator
	leader       *LeaderElector
	log          *slog.Logger
	interval     time.Duration
	initialDelay time.Duration

	mu      sync.Mutex
	enabled bool
	stop    chan struct{}
}

// NewAutosaver returns an enabled Autosaver. leader may be nil (single
// window). Zero durations fall back to the defaults. Timers do not run
// until Restart is called, normally when a composition becomes active.
func NewAutosaver(coord *Coordinator, leader *LeaderElector, log *slog.Logger, interval, initialDelay time.Duration) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	if initialDelay <= 0 {
		initialDelay = DefaultAutosaveInitialDelay
	}
	return &Autosaver{
		coord:        coord,
		leader:       leader,
		log:          log,
		interval:     interval,
		initialDelay: initialDelay,
		enabled:      true,
	}
}

// Enabled reports whether autosave is enabled.
func (a *Autosaver) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// SetEnabled toggles autosave. Disabling cancels both timers; re-enabling
// restarts them from scratch when a composition is active.
func (a *Autosaver) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.stopLocked()
	active := enabled && a.coord.ActiveID() != ""
	if active {
		a.startLocked()
	}
	a.mu.Unlock()
}

// Restart cancels any running timers and starts the initial delay and the
// periodic tick over. Called when a composition becomes active or the
// active composition switches.
func (a *Autosaver) Restart() {
	a.mu.Lock()
	a.stopLocked()
	if a.enabled {
		a.startLocked()
	}
	a.mu.Unlock()
}

// Stop cancels both timers. Called when the active composition becomes null
// or the owning window unmounts.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	a.stopLocked()
	a.mu.Unlock()
}

func (a *Autosaver) startLocked() {
	stop := make(chan struct{})
	a.stop = stop
	go a.run(stop)
}

func (a *Autosaver) stopLocked() {
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
}

func (a *Autosaver) run(stop chan struct{}) {
	timer := time.NewTimer(a.initialDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stop:
		return
	}
	a.attempt()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.attempt()
		case <-stop:
			return
		}
	}
}

// attempt runs one autosave tick. All guards must pass or the tick is a
// no-op that issues no persistence call.
func (a *Autosaver) attempt() {
	if !a.Enabled() {
		return
	}
	if a.coord.ActiveID() == "" {
		return
	}
	if !a.coord.HasUnsavedChanges() {
		return
	}
	if a.coord.IsSaving() {
		return
	}
	if a.leader != nil && !a.leader.IsLeader() {
		return
	}

	if err := a.coord.Autosave(context.Background()); err != nil {
		a.log.Warn("autosave failed, will retry on next tick",
			slog.String("composition_id", string(a.coord.ActiveID())),
			slog.String("error", err.Error()))
	}
}
