package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tracklab/internal/bus"
	"tracklab/internal/composition"

	"github.com/google/uuid"
)

// ErrTrackNotFound is returned by partition mutators addressing an unknown
// track.
var ErrTrackNotFound = errors.New("track not found")

// Sequencer owns the sequence document: tracks, their clips, and transport
// settings. Mutators apply locally, report dirty, persist the slice, and
// then broadcast the new document; broadcasts from sibling windows are
// absorbed without re-persisting or re-reporting dirty, since the mutating
// window already did both.
type Sequencer struct {
	mu  sync.Mutex
	doc composition.SequenceDoc

	svc      PersistenceService
	bus      bus.Bus
	dirty    *DirtyTracker
	activeID ActiveIDFunc
	unsub    func()
}

// NewSequencer returns a sequencer partition subscribed to its topic.
func NewSequencer(svc PersistenceService, b bus.Bus, dirty *DirtyTracker, activeID ActiveIDFunc) *Sequencer {
	s := &Sequencer{
		doc:      composition.SequenceDoc{Tracks: []composition.Track{}},
		svc:      svc,
		bus:      b,
		dirty:    dirty,
		activeID: activeID,
	}
	s.unsub = b.Subscribe(TopicSequencerTracks, s.absorb)
	return s
}

// Close drops the partition's bus subscription.
func (s *Sequencer) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// Doc returns the current sequence document. Tracks are copied shallowly;
// callers must treat clips as read-only.
func (s *Sequencer) Doc() composition.SequenceDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.doc
	out.Tracks = append([]composition.Track(nil), s.doc.Tracks...)
	return out
}

// TrackIDs returns the set of track ids currently in the document.
func (s *Sequencer) TrackIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return trackIDSet(s.doc)
}

func trackIDSet(doc composition.SequenceDoc) map[string]bool {
	ids := make(map[string]bool, len(doc.Tracks))
	for _, t := range doc.Tracks {
		ids[t.ID] = true
	}
	return ids
}

// stageLoad validates a snapshot slice and returns the commit that swaps it
// in. Nothing is applied until the commit runs.
func (s *Sequencer) stageLoad(doc composition.SequenceDoc) (func(), error) {
	seen := make(map[string]bool, len(doc.Tracks))
	for _, t := range doc.Tracks {
		if t.ID == "" {
			return nil, fmt.Errorf("track %q has no id", t.Name)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate track id %s", t.ID)
		}
		seen[t.ID] = true
	}
	return func() {
		s.mu.Lock()
		s.doc = doc
		s.mu.Unlock()
	}, nil
}

func (s *Sequencer) absorb(raw json.RawMessage) {
	var doc composition.SequenceDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// persistAndBroadcast pushes the given document copy to the store and then
// announces it.
func (s *Sequencer) persistAndBroadcast(ctx context.Context, doc composition.SequenceDoc) error {
	id := s.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	if err := s.svc.SaveSequence(ctx, id, doc); err != nil {
		return err
	}
	return s.bus.Publish(TopicSequencerTracks, doc)
}

// AddTrack appends a new track with a minted id.
func (s *Sequencer) AddTrack(ctx context.Context, name, instrument string) (composition.Track, error) {
	s.mu.Lock()
	track := composition.Track{
		ID:         uuid.NewString(),
		Name:       name,
		Instrument: instrument,
		Clips:      []composition.Clip{},
	}
	s.doc.Tracks = append(s.doc.Tracks, track)
	doc := s.doc
	s.mu.Unlock()

	s.dirty.NotifyChanged()
	return track, s.persistAndBroadcast(ctx, doc)
}

// AddClip places a clip on a track, minting a clip id if none is set.
func (s *Sequencer) AddClip(ctx context.Context, trackID string, clip composition.Clip) (composition.Clip, error) {
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}

	s.mu.Lock()
	found := false
	for i := range s.doc.Tracks {
		if s.doc.Tracks[i].ID == trackID {
			s.doc.Tracks[i].Clips = append(s.doc.Tracks[i].Clips, clip)
			found = true
			break
		}
	}
	doc := s.doc
	s.mu.Unlock()

	if !found {
		return composition.Clip{}, ErrTrackNotFound
	}

	s.dirty.NotifyChanged()
	return clip, s.persistAndBroadcast(ctx, doc)
}

// SetTrackMuted toggles a track's mute flag.
func (s *Sequencer) SetTrackMuted(ctx context.Context, trackID string, muted bool) error {
	s.mu.Lock()
	found := false
	for i := range s.doc.Tracks {
		if s.doc.Tracks[i].ID == trackID {
			s.doc.Tracks[i].Muted = muted
			found = true
			break
		}
	}
	doc := s.doc
	s.mu.Unlock()

	if !found {
		return ErrTrackNotFound
	}

	s.dirty.NotifyChanged()
	return s.persistAndBroadcast(ctx, doc)
}

// SetTransport replaces the transport settings. The broadcast here is
// optimistic (before the persistence call): transport tweaks are frequent
// and sibling windows should track them immediately.
func (s *Sequencer) SetTransport(ctx context.Context, t composition.Transport) error {
	s.mu.Lock()
	s.doc.Transport = t
	doc := s.doc
	s.mu.Unlock()

	s.dirty.NotifyChanged()
	if err := s.bus.Publish(TopicSequencerTracks, doc); err != nil {
		return err
	}

	id := s.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	return s.svc.SaveSequence(ctx, id, doc)
}
