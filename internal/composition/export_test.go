package composition

import (
	"testing"
	"time"
)

func TestExportImportYAML_round_trip(t *testing.T) {
	doc := Document{
		Composition: Composition{
			ID:            "c1",
			Name:          "Song A",
			Tempo:         132,
			TimeSignature: "3/4",
			CreatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			UpdatedAt:     time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC),
			TrackCount:    1,
			ClipCount:     1,
		},
		Snapshot: Snapshot{
			Sequence: SequenceDoc{
				Tracks: []Track{{
					ID:         "t1",
					Name:       "Drums",
					Instrument: "sampler",
					Clips: []Clip{{
						ID:          "cl1",
						StartBeat:   0,
						LengthBeats: 4,
						Notes:       []Note{{Pitch: 36, Velocity: 100, StartBeat: 0, LengthBeats: 0.25}},
					}},
				}},
				Transport: Transport{LoopEnabled: true, LoopEnd: 16},
			},
			Mixer: MixerState{
				Channels: []Channel{{TrackID: "t1", Volume: 0.8, Pan: -0.2}},
				Master:   MasterChannel{Volume: 1.0},
			},
			EffectChains: map[string][]Effect{
				"t1": {{ID: "e1", Kind: "reverb", Params: map[string]float64{"mix": 0.3}}},
			},
			SampleAssignments: map[string]SampleAssignment{
				"t1": {SampleID: "s1", Name: "Kick", RootNote: 36},
			},
		},
	}

	data, err := ExportYAML(doc)
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}
	got, err := ImportYAML(data)
	if err != nil {
		t.Fatalf("ImportYAML: %v", err)
	}

	if got.Composition.ID != doc.Composition.ID || got.Composition.Tempo != doc.Composition.Tempo {
		t.Errorf("metadata mismatch: %+v", got.Composition)
	}
	if len(got.Snapshot.Sequence.Tracks) != 1 || got.Snapshot.Sequence.Tracks[0].ID != "t1" {
		t.Fatalf("tracks mismatch: %+v", got.Snapshot.Sequence.Tracks)
	}
	if n := got.Snapshot.Sequence.Tracks[0].Clips[0].Notes[0]; n.Pitch != 36 || n.LengthBeats != 0.25 {
		t.Errorf("note mismatch: %+v", n)
	}
	if got.Snapshot.Mixer.Channels[0].Pan != -0.2 {
		t.Errorf("mixer mismatch: %+v", got.Snapshot.Mixer.Channels)
	}
	if got.Snapshot.EffectChains["t1"][0].Params["mix"] != 0.3 {
		t.Errorf("effects mismatch: %+v", got.Snapshot.EffectChains)
	}
	if got.Snapshot.SampleAssignments["t1"].RootNote != 36 {
		t.Errorf("samples mismatch: %+v", got.Snapshot.SampleAssignments)
	}
}

func TestImportYAML_allocates_maps(t *testing.T) {
	doc, err := ImportYAML([]byte("composition:\n  id: c1\n  name: Song A\n"))
	if err != nil {
		t.Fatalf("ImportYAML: %v", err)
	}
	if doc.Snapshot.EffectChains == nil || doc.Snapshot.SampleAssignments == nil {
		t.Error("maps should be allocated on import")
	}
}

func TestImportYAML_rejects_garbage(t *testing.T) {
	if _, err := ImportYAML([]byte("\t{not yaml")); err == nil {
		t.Error("expected an error for malformed input")
	}
}
