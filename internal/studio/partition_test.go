package studio

import (
	"context"
	"errors"
	"testing"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
)

func TestPartitions_broadcast_to_siblings(t *testing.T) {
	ctx := context.Background()
	ch := bus.NewChannel()
	hs := newHookedService()
	a := newSession(t, ch, hs, "a")
	b := newSession(t, ch, hs, "b")

	meta, err := a.Coordinator.CreateComposition(ctx, "Song A", 120)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	if err := b.Coordinator.LoadComposition(ctx, meta.ID); err != nil {
		t.Fatalf("LoadComposition: %v", err)
	}

	track, err := a.Sequencer.AddTrack(ctx, "Drums", "kit")
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	// The sibling absorbed the broadcast document.
	doc := b.Sequencer.Doc()
	if len(doc.Tracks) != 1 || doc.Tracks[0].ID != track.ID {
		t.Fatalf("sibling did not absorb the track: %+v", doc.Tracks)
	}

	// Absorbing must not dirty the sibling or re-persist the slice: only
	// the mutating window talks to the store.
	if b.Coordinator.HasUnsavedChanges() {
		t.Error("absorbing a broadcast must not set the sibling's dirty flag")
	}
	_, _, seqSaves := hs.stats()
	if seqSaves != 1 {
		t.Errorf("expected exactly one slice save, got %d", seqSaves)
	}
}

func TestSequencer_AddClip_unknown_track(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, bus.NewChannel(), newHookedService(), "a")
	if _, err := s.Coordinator.CreateComposition(ctx, "Song A", 120); err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}

	_, err := s.Sequencer.AddClip(ctx, "nope", composition.Clip{LengthBeats: 4})
	if !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
}

func TestSequencer_AddClip_mints_id(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, bus.NewChannel(), newHookedService(), "a")
	if _, err := s.Coordinator.CreateComposition(ctx, "Song A", 120); err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	track, err := s.Sequencer.AddTrack(ctx, "Drums", "kit")
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	clip, err := s.Sequencer.AddClip(ctx, track.ID, composition.Clip{LengthBeats: 4})
	if err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	if clip.ID == "" {
		t.Error("expected a minted clip id")
	}
}

func TestSequencer_mutation_without_active(t *testing.T) {
	s := newSession(t, bus.NewChannel(), newHookedService(), "a")
	_, err := s.Sequencer.AddTrack(context.Background(), "Drums", "kit")
	if !errors.Is(err, ErrNoActiveComposition) {
		t.Errorf("expected ErrNoActiveComposition, got %v", err)
	}
}

func TestMixer_lazy_channel_creation(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, bus.NewChannel(), newHookedService(), "a")
	if _, err := s.Coordinator.CreateComposition(ctx, "Song A", 120); err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}

	if err := s.Mixer.SetChannelPan(ctx, "t1", -0.5); err != nil {
		t.Fatalf("SetChannelPan: %v", err)
	}
	st := s.Mixer.State()
	if len(st.Channels) != 1 {
		t.Fatalf("expected a lazily created channel, got %d", len(st.Channels))
	}
	if st.Channels[0].Volume != 1.0 || st.Channels[0].Pan != -0.5 {
		t.Errorf("new channels start at unity gain: %+v", st.Channels[0])
	}

	// A second touch reuses the strip.
	if err := s.Mixer.SetChannelVolume(ctx, "t1", 0.6); err != nil {
		t.Fatalf("SetChannelVolume: %v", err)
	}
	st = s.Mixer.State()
	if len(st.Channels) != 1 || st.Channels[0].Volume != 0.6 {
		t.Errorf("expected the same strip updated: %+v", st.Channels)
	}
}

func TestEffects_set_and_remove_chain(t *testing.T) {
	ctx := context.Background()
	ch := bus.NewChannel()
	hs := newHookedService()
	a := newSession(t, ch, hs, "a")
	b := newSession(t, ch, hs, "b")

	meta, err := a.Coordinator.CreateComposition(ctx, "Song A", 120)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	if err := b.Coordinator.LoadComposition(ctx, meta.ID); err != nil {
		t.Fatalf("LoadComposition: %v", err)
	}

	chain := []composition.Effect{{ID: "e1", Kind: "reverb", Params: map[string]float64{"mix": 0.4}}}
	if err := a.Effects.SetChain(ctx, "t1", chain); err != nil {
		t.Fatalf("SetChain: %v", err)
	}
	if got := b.Effects.Chain("t1"); len(got) != 1 || got[0].Kind != "reverb" {
		t.Errorf("sibling did not absorb the chain: %+v", got)
	}

	if err := a.Effects.RemoveChain(ctx, "t1"); err != nil {
		t.Fatalf("RemoveChain: %v", err)
	}
	if got := b.Effects.Chain("t1"); len(got) != 0 {
		t.Errorf("sibling still holds a removed chain: %+v", got)
	}
}

func TestSamples_assign_and_unassign(t *testing.T) {
	ctx := context.Background()
	ch := bus.NewChannel()
	hs := newHookedService()
	a := newSession(t, ch, hs, "a")
	b := newSession(t, ch, hs, "b")

	meta, err := a.Coordinator.CreateComposition(ctx, "Song A", 120)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	if err := b.Coordinator.LoadComposition(ctx, meta.ID); err != nil {
		t.Fatalf("LoadComposition: %v", err)
	}

	if err := a.Samples.Assign(ctx, "t1", composition.SampleAssignment{SampleID: "s1", Name: "Kick"}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got := b.Samples.Assignments(); got["t1"].SampleID != "s1" {
		t.Errorf("sibling did not absorb the assignment: %+v", got)
	}

	if err := a.Samples.Unassign(ctx, "t1"); err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if got := b.Samples.Assignments(); len(got) != 0 {
		t.Errorf("sibling still holds a cleared assignment: %+v", got)
	}
}

func TestDistributor_stage_order_and_rollback(t *testing.T) {
	ch := bus.NewChannel()
	b := ch.Attach()
	hs := newHookedService()
	dirty := NewDirtyTracker()
	activeID := func() composition.CompositionID { return "c1" }

	seq := NewSequencer(hs, b, dirty, activeID)
	mix := NewMixer(hs, b, dirty, activeID)
	fx := NewEffects(hs, b, dirty, activeID)
	smp := NewSamples(hs, b, dirty, activeID)
	d := NewDistributor(seq, mix, fx, smp)

	good := composition.Snapshot{
		Sequence: composition.SequenceDoc{Tracks: []composition.Track{{ID: "t1", Name: "Drums"}}},
		Mixer:    composition.MixerState{Channels: []composition.Channel{{TrackID: "t1", Volume: 1}}},
		EffectChains: map[string][]composition.Effect{
			"t1": {{ID: "e1", Kind: "eq"}},
		},
		SampleAssignments: map[string]composition.SampleAssignment{
			"t1": {SampleID: "s1"},
		},
	}
	if err := d.Distribute(good); err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if len(seq.Doc().Tracks) != 1 || len(mix.State().Channels) != 1 {
		t.Fatal("good snapshot was not applied")
	}

	// Duplicate track ids are rejected by the sequencer stage, before any
	// partition commits.
	bad := good
	bad.Sequence = composition.SequenceDoc{Tracks: []composition.Track{{ID: "t1"}, {ID: "t1"}}}
	bad.SampleAssignments = map[string]composition.SampleAssignment{"t9": {SampleID: "s9"}}

	err := d.Distribute(bad)
	var le *LoadError
	if !errors.As(err, &le) || le.Partition != "sequencer" {
		t.Fatalf("expected the sequencer stage to reject, got %v", err)
	}
	if len(seq.Doc().Tracks) != 1 {
		t.Error("sequencer state changed despite the rejected snapshot")
	}
	if got := smp.Assignments(); got["t1"].SampleID != "s1" || len(got) != 1 {
		t.Errorf("sample state changed despite the rejected snapshot: %+v", got)
	}
}

func TestDistributor_samples_stage_rejects_unknown_track(t *testing.T) {
	ch := bus.NewChannel()
	b := ch.Attach()
	hs := newHookedService()
	dirty := NewDirtyTracker()
	activeID := func() composition.CompositionID { return "c1" }

	d := NewDistributor(
		NewSequencer(hs, b, dirty, activeID),
		NewMixer(hs, b, dirty, activeID),
		NewEffects(hs, b, dirty, activeID),
		NewSamples(hs, b, dirty, activeID),
	)

	snap := composition.Snapshot{
		Sequence:          composition.SequenceDoc{Tracks: []composition.Track{{ID: "t1"}}},
		SampleAssignments: map[string]composition.SampleAssignment{"ghost": {SampleID: "s1"}},
	}
	err := d.Distribute(snap)
	var le *LoadError
	if !errors.As(err, &le) || le.Partition != "samples" {
		t.Fatalf("expected the samples stage to reject, got %v", err)
	}
}
