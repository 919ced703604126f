package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
)

// Samples owns the track-to-sample assignments.
type Samples struct {
	mu          sync.Mutex
	assignments map[string]composition.SampleAssignment

	svc      PersistenceService
	bus      bus.Bus
	dirty    *DirtyTracker
	activeID ActiveIDFunc
	unsub    func()
}

// NewSamples returns a samples partition subscribed to its topic.
func NewSamples(svc PersistenceService, b bus.Bus, dirty *DirtyTracker, activeID ActiveIDFunc) *Samples {
	s := &Samples{
		assignments: map[string]composition.SampleAssignment{},
		svc:         svc,
		bus:         b,
		dirty:       dirty,
		activeID:    activeID,
	}
	s.unsub = b.Subscribe(TopicSampleAssignments, s.absorb)
	return s
}

// Close drops the partition's bus subscription.
func (s *Samples) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// Assignments returns a copy of all assignments keyed by track id.
func (s *Samples) Assignments() map[string]composition.SampleAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]composition.SampleAssignment, len(s.assignments))
	for k, v := range s.assignments {
		out[k] = v
	}
	return out
}

// stageLoad validates a snapshot slice against the staged sequencer tracks
// and returns the commit that swaps it in.
func (s *Samples) stageLoad(assignments map[string]composition.SampleAssignment, trackIDs map[string]bool) (func(), error) {
	for trackID := range assignments {
		if !trackIDs[trackID] {
			return nil, fmt.Errorf("sample assignment references unknown track %s", trackID)
		}
	}
	if assignments == nil {
		assignments = map[string]composition.SampleAssignment{}
	}
	return func() {
		s.mu.Lock()
		s.assignments = assignments
		s.mu.Unlock()
	}, nil
}

func (s *Samples) absorb(raw json.RawMessage) {
	var assignments map[string]composition.SampleAssignment
	if err := json.Unmarshal(raw, &assignments); err != nil {
		return
	}
	if assignments == nil {
		assignments = map[string]composition.SampleAssignment{}
	}
	s.mu.Lock()
	s.assignments = assignments
	s.mu.Unlock()
}

func (s *Samples) snapshotLocked() map[string]composition.SampleAssignment {
	out := make(map[string]composition.SampleAssignment, len(s.assignments))
	for k, v := range s.assignments {
		out[k] = v
	}
	return out
}

// Assign binds a sample to a track.
func (s *Samples) Assign(ctx context.Context, trackID string, a composition.SampleAssignment) error {
	s.mu.Lock()
	s.assignments[trackID] = a
	all := s.snapshotLocked()
	s.mu.Unlock()

	s.dirty.NotifyChanged()

	id := s.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	if err := s.svc.SaveSampleAssignment(ctx, id, trackID, &a); err != nil {
		return err
	}
	return s.bus.Publish(TopicSampleAssignments, all)
}

// Unassign clears a track's sample assignment.
func (s *Samples) Unassign(ctx context.Context, trackID string) error {
	s.mu.Lock()
	delete(s.assignments, trackID)
	all := s.snapshotLocked()
	s.mu.Unlock()

	s.dirty.NotifyChanged()

	id := s.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	if err := s.svc.SaveSampleAssignment(ctx, id, trackID, nil); err != nil {
		return err
	}
	return s.bus.Publish(TopicSampleAssignments, all)
}
