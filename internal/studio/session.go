package studio

import (
	"log/slog"
	"time"

	"tracklab/internal/bus"
	"tracklab/internal/composition"

	"github.com/google/uuid"
)

// SessionConfig configures one window's studio session.
type SessionConfig struct {
	// SessionID identifies this window in broadcasts and leader election.
	// Empty mints a new id.
	SessionID string

	// Bus is the window's handle on the shared broadcast channel.
	Bus bus.Bus

	// Service is the persistence backend (HTTP client or in-process).
	Service PersistenceService

	// Logger is required.
	Logger *slog.Logger

	// LocalState is the durable client-side store; nil disables auto-resume.
	LocalState *LocalState

	// AutosaveInterval and AutosaveInitialDelay default to 60s and 10s.
	AutosaveInterval     time.Duration
	AutosaveInitialDelay time.Duration

	// DisableAutosave turns the autosave timers off entirely.
	DisableAutosave bool

	// DisableLeaderElection makes this window autosave unconditionally
	// (single-window deployments and tests).
	DisableLeaderElection bool
}

// Session wires the full client core for one window: the four partitions,
// dirty tracking, the lifecycle coordinator, the autosave scheduler with
// leader election, and version history.
type Session struct {
	ID          string
	Sequencer   *Sequencer
	Mixer       *Mixer
	Effects     *Effects
	Samples     *Samples
	Dirty       *DirtyTracker
	Coordinator *Coordinator
	Autosaver   *Autosaver
	History     *HistoryManager

	bus    bus.Bus
	leader *LeaderElector
}

// NewSession assembles a session from cfg.
func NewSession(cfg SessionConfig) *Session {
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	log := cfg.Logger.With(slog.String("session_id", id))

	dirty := NewDirtyTracker()

	// Partitions resolve the active composition through the coordinator,
	// which is constructed after them.
	var coord *Coordinator
	activeID := func() composition.CompositionID {
		if coord == nil {
			return ""
		}
		return coord.ActiveID()
	}

	seq := NewSequencer(cfg.Service, cfg.Bus, dirty, activeID)
	mix := NewMixer(cfg.Service, cfg.Bus, dirty, activeID)
	fx := NewEffects(cfg.Service, cfg.Bus, dirty, activeID)
	smp := NewSamples(cfg.Service, cfg.Bus, dirty, activeID)
	dist := NewDistributor(seq, mix, fx, smp)

	coord = NewCoordinator(cfg.Service, dist, dirty, cfg.Bus, log, cfg.LocalState, id)

	var leader *LeaderElector
	if !cfg.DisableLeaderElection {
		leader = NewLeaderElector(cfg.Bus, id, log)
	}

	saver := NewAutosaver(coord, leader, log, cfg.AutosaveInterval, cfg.AutosaveInitialDelay)
	if cfg.DisableAutosave {
		saver.SetEnabled(false)
	}

	coord.SetActiveListener(func(active composition.CompositionID) {
		if active != "" {
			if leader != nil {
				leader.Start()
			}
			saver.Restart()
		} else {
			saver.Stop()
			if leader != nil {
				leader.Stop()
			}
		}
	})

	return &Session{
		ID:          id,
		Sequencer:   seq,
		Mixer:       mix,
		Effects:     fx,
		Samples:     smp,
		Dirty:       dirty,
		Coordinator: coord,
		Autosaver:   saver,
		History:     NewHistoryManager(cfg.Service, coord, log),
		bus:         cfg.Bus,
		leader:      leader,
	}
}

// Close tears the session down: timers, election, subscriptions, and the
// bus handle.
func (s *Session) Close() error {
	s.Autosaver.Stop()
	if s.leader != nil {
		s.leader.Stop()
	}
	s.Coordinator.Close()
	s.Sequencer.Close()
	s.Mixer.Close()
	s.Effects.Close()
	s.Samples.Close()
	return s.bus.Close()
}
