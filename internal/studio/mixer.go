package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
)

// Mixer owns the mixer state: one channel strip per track plus the master
// bus. Channels are created lazily the first time a track's strip is
// touched.
type Mixer struct {
	mu    sync.Mutex
	state composition.MixerState

	svc      PersistenceService
	bus      bus.Bus
	dirty    *DirtyTracker
	activeID ActiveIDFunc
	unsub    func()
}

// NewMixer returns a mixer partition subscribed to its topic.
func NewMixer(svc PersistenceService, b bus.Bus, dirty *DirtyTracker, activeID ActiveIDFunc) *Mixer {
	m := &Mixer{
		state:    composition.MixerState{Channels: []composition.Channel{}, Master: composition.MasterChannel{Volume: 1.0}},
		svc:      svc,
		bus:      b,
		dirty:    dirty,
		activeID: activeID,
	}
	m.unsub = b.Subscribe(TopicMixerChannels, m.absorb)
	return m
}

// Close drops the partition's bus subscription.
func (m *Mixer) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// State returns the current mixer state with channels copied shallowly.
func (m *Mixer) State() composition.MixerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	out.Channels = append([]composition.Channel(nil), m.state.Channels...)
	return out
}

// stageLoad validates a snapshot slice against the staged sequencer tracks
// and returns the commit that swaps it in. Channels must reference tracks
// that exist after the sequencer's load step.
func (m *Mixer) stageLoad(st composition.MixerState, trackIDs map[string]bool) (func(), error) {
	for _, ch := range st.Channels {
		if !trackIDs[ch.TrackID] {
			return nil, fmt.Errorf("channel references unknown track %s", ch.TrackID)
		}
	}
	return func() {
		m.mu.Lock()
		m.state = st
		m.mu.Unlock()
	}, nil
}

func (m *Mixer) absorb(raw json.RawMessage) {
	var st composition.MixerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return
	}
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
}

func (m *Mixer) persistAndBroadcast(ctx context.Context, st composition.MixerState) error {
	id := m.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	if err := m.svc.SaveMixer(ctx, id, st); err != nil {
		return err
	}
	return m.bus.Publish(TopicMixerChannels, st)
}

// channelLocked returns the strip for trackID, creating it at unity gain if
// missing. Caller holds m.mu.
func (m *Mixer) channelLocked(trackID string) *composition.Channel {
	for i := range m.state.Channels {
		if m.state.Channels[i].TrackID == trackID {
			return &m.state.Channels[i]
		}
	}
	m.state.Channels = append(m.state.Channels, composition.Channel{TrackID: trackID, Volume: 1.0})
	return &m.state.Channels[len(m.state.Channels)-1]
}

// SetChannelVolume sets a track strip's volume.
func (m *Mixer) SetChannelVolume(ctx context.Context, trackID string, volume float64) error {
	m.mu.Lock()
	m.channelLocked(trackID).Volume = volume
	st := m.state
	m.mu.Unlock()

	m.dirty.NotifyChanged()
	return m.persistAndBroadcast(ctx, st)
}

// SetChannelPan sets a track strip's pan position (-1..1).
func (m *Mixer) SetChannelPan(ctx context.Context, trackID string, pan float64) error {
	m.mu.Lock()
	m.channelLocked(trackID).Pan = pan
	st := m.state
	m.mu.Unlock()

	m.dirty.NotifyChanged()
	return m.persistAndBroadcast(ctx, st)
}

// SetChannelMuted toggles a track strip's mute.
func (m *Mixer) SetChannelMuted(ctx context.Context, trackID string, muted bool) error {
	m.mu.Lock()
	m.channelLocked(trackID).Muted = muted
	st := m.state
	m.mu.Unlock()

	m.dirty.NotifyChanged()
	return m.persistAndBroadcast(ctx, st)
}

// SetMasterVolume sets the master bus volume.
func (m *Mixer) SetMasterVolume(ctx context.Context, volume float64) error {
	m.mu.Lock()
	m.state.Master.Volume = volume
	st := m.state
	m.mu.Unlock()

	m.dirty.NotifyChanged()
	return m.persistAndBroadcast(ctx, st)
}
