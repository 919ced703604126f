package composition

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewInMemoryRepository())
}

func TestService_CreateComposition_defaults(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateComposition(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	if meta.Name != "Untitled" {
		t.Errorf("expected default name Untitled, got %q", meta.Name)
	}
	if meta.Tempo != DefaultTempo {
		t.Errorf("expected default tempo %v, got %v", float64(DefaultTempo), meta.Tempo)
	}
	if meta.TimeSignature != DefaultTimeSignature {
		t.Errorf("expected time signature %q, got %q", DefaultTimeSignature, meta.TimeSignature)
	}
	if meta.ID == "" {
		t.Error("expected a minted id")
	}
}

func TestService_CreateComposition_starts_empty(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateComposition(context.Background(), "Song A", 90)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}

	doc, err := svc.GetComposition(context.Background(), meta.ID, false)
	if err != nil {
		t.Fatalf("GetComposition: %v", err)
	}
	if len(doc.Snapshot.Sequence.Tracks) != 0 {
		t.Errorf("new composition should have no tracks, got %d", len(doc.Snapshot.Sequence.Tracks))
	}
	if doc.Snapshot.EffectChains == nil || doc.Snapshot.SampleAssignments == nil {
		t.Error("snapshot maps should be allocated")
	}
	if doc.Snapshot.Mixer.Master.Volume != 1.0 {
		t.Errorf("master volume should start at unity, got %v", doc.Snapshot.Mixer.Master.Volume)
	}
}

func TestService_empty_id_is_invalid(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	checks := []struct {
		name string
		call func() error
	}{
		{"get", func() error { _, err := svc.GetComposition(ctx, "", false); return err }},
		{"save", func() error { _, err := svc.SaveComposition(ctx, "", SaveOptions{}); return err }},
		{"delete", func() error { return svc.DeleteComposition(ctx, "") }},
		{"history", func() error { _, err := svc.ListHistory(ctx, ""); return err }},
		{"recover", func() error { _, err := svc.RecoverAutosave(ctx, ""); return err }},
		{"sequence", func() error { return svc.SaveSequence(ctx, "", SequenceDoc{}) }},
		{"mixer", func() error { return svc.SaveMixer(ctx, "", MixerState{}) }},
		{"effects", func() error { return svc.SaveEffectChain(ctx, "", "t1", nil) }},
		{"samples", func() error { return svc.SaveSampleAssignment(ctx, "", "t1", nil) }},
	}
	for _, c := range checks {
		if err := c.call(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", c.name, err)
		}
	}
}

func TestService_UpdateComposition_partial(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	meta, err := svc.CreateComposition(ctx, "Song A", 120)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}

	tempo := 140.0
	updated, err := svc.UpdateComposition(ctx, meta.ID, MetadataUpdate{Tempo: &tempo})
	if err != nil {
		t.Fatalf("UpdateComposition: %v", err)
	}
	if updated.Tempo != 140 {
		t.Errorf("expected tempo 140, got %v", updated.Tempo)
	}
	if updated.Name != "Song A" {
		t.Errorf("name should be unchanged, got %q", updated.Name)
	}

	bad := -1.0
	if _, err := svc.UpdateComposition(ctx, meta.ID, MetadataUpdate{Tempo: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for non-positive tempo, got %v", err)
	}
}

func TestService_RestoreVersion_validation(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.RestoreVersion(context.Background(), "c1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for version 0, got %v", err)
	}
}

func TestService_ListCompositions_most_recent_first(t *testing.T) {
	repo := NewInMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	a, err := svc.CreateComposition(ctx, "Older", 120)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	b, err := svc.CreateComposition(ctx, "Newer", 120)
	if err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}

	// Touching the older one bumps it to the front.
	if err := svc.SaveSequence(ctx, a.ID, SequenceDoc{Tracks: []Track{{ID: "t1"}}}); err != nil {
		t.Fatalf("SaveSequence: %v", err)
	}

	list, err := svc.ListCompositions(ctx)
	if err != nil {
		t.Fatalf("ListCompositions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 compositions, got %d", len(list))
	}
	if list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("expected most recently updated first, got %v then %v", list[0].Name, list[1].Name)
	}
}

func TestService_CompositionCount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if n := svc.CompositionCount(ctx); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if _, err := svc.CreateComposition(ctx, "Song A", 120); err != nil {
		t.Fatalf("CreateComposition: %v", err)
	}
	if n := svc.CompositionCount(ctx); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
}
