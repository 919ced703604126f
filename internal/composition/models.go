package composition

import "time"

// CompositionID uniquely identifies a stored composition.
type CompositionID string

// Composition is the metadata record for one project. The derived counters
// are recomputed from the snapshot on every save and slice update.
type Composition struct {
	ID            CompositionID `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	Tempo         float64       `json:"tempo" yaml:"tempo"`
	TimeSignature string        `json:"time_signature" yaml:"time_signature"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at"`
	TrackCount    int           `json:"track_count" yaml:"track_count"`
	ClipCount     int           `json:"clip_count" yaml:"clip_count"`
}

// Note is a single note event inside a clip. Beats are measured from the
// clip start.
type Note struct {
	Pitch       int     `json:"pitch" yaml:"pitch"`
	Velocity    int     `json:"velocity" yaml:"velocity"`
	StartBeat   float64 `json:"start_beat" yaml:"start_beat"`
	LengthBeats float64 `json:"length_beats" yaml:"length_beats"`
}

// Clip is a placed region of notes on a track.
type Clip struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	StartBeat   float64 `json:"start_beat" yaml:"start_beat"`
	LengthBeats float64 `json:"length_beats" yaml:"length_beats"`
	Notes       []Note  `json:"notes" yaml:"notes,flow"`
}

// Track holds one instrument lane and its clips. Track IDs are minted by the
// sequencer and referenced by mixer channels, effect chains, and sample
// assignments.
type Track struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Instrument string `json:"instrument" yaml:"instrument"`
	Muted      bool   `json:"muted,omitempty" yaml:"muted,omitempty"`
	Clips      []Clip `json:"clips" yaml:"clips"`
}

// Transport carries playback and loop settings shared by the sequencer UI.
type Transport struct {
	LoopEnabled bool    `json:"loop_enabled" yaml:"loop_enabled"`
	LoopStart   float64 `json:"loop_start" yaml:"loop_start"`
	LoopEnd     float64 `json:"loop_end" yaml:"loop_end"`
	Metronome   bool    `json:"metronome" yaml:"metronome"`
}

// SequenceDoc is the sequencer partition's slice of a snapshot: tracks,
// their clips, and transport settings.
type SequenceDoc struct {
	Tracks    []Track   `json:"tracks" yaml:"tracks"`
	Transport Transport `json:"transport" yaml:"transport"`
}

// Channel is one mixer strip bound to a track.
type Channel struct {
	TrackID string  `json:"track_id" yaml:"track_id"`
	Volume  float64 `json:"volume" yaml:"volume"`
	Pan     float64 `json:"pan" yaml:"pan"`
	Muted   bool    `json:"muted,omitempty" yaml:"muted,omitempty"`
	Soloed  bool    `json:"soloed,omitempty" yaml:"soloed,omitempty"`
}

// MasterChannel is the mix bus every channel feeds into.
type MasterChannel struct {
	Volume float64 `json:"volume" yaml:"volume"`
	Pan    float64 `json:"pan" yaml:"pan"`
}

// MixerState is the mixer partition's slice of a snapshot.
type MixerState struct {
	Channels []Channel     `json:"channels" yaml:"channels"`
	Master   MasterChannel `json:"master" yaml:"master"`
}

// Effect is a single processor in a track's effect chain.
type Effect struct {
	ID       string             `json:"id" yaml:"id"`
	Kind     string             `json:"kind" yaml:"kind"`
	Params   map[string]float64 `json:"params" yaml:"params"`
	Bypassed bool               `json:"bypassed,omitempty" yaml:"bypassed,omitempty"`
}

// SampleAssignment binds a library sample to a track.
type SampleAssignment struct {
	SampleID string  `json:"sample_id" yaml:"sample_id"`
	Name     string  `json:"name" yaml:"name"`
	URL      string  `json:"url" yaml:"url"`
	RootNote int     `json:"root_note" yaml:"root_note"`
	GainDB   float64 `json:"gain_db" yaml:"gain_db"`
}

// ChatMessage is one entry of the optional per-composition chat log.
type ChatMessage struct {
	Author string    `json:"author" yaml:"author"`
	Body   string    `json:"body" yaml:"body"`
	SentAt time.Time `json:"sent_at" yaml:"sent_at"`
}

// Snapshot is the full transferable state of a composition. Effect chains
// and sample assignments are keyed by track ID.
type Snapshot struct {
	Sequence          SequenceDoc                 `json:"sequence" yaml:"sequence"`
	Mixer             MixerState                  `json:"mixer" yaml:"mixer"`
	EffectChains      map[string][]Effect         `json:"effect_chains" yaml:"effect_chains"`
	SampleAssignments map[string]SampleAssignment `json:"sample_assignments" yaml:"sample_assignments"`
	Chat              []ChatMessage               `json:"chat,omitempty" yaml:"chat,omitempty"`
}

// Document is a snapshot together with its metadata, as returned by load,
// restore, and recover calls.
type Document struct {
	Composition Composition `json:"composition" yaml:"composition"`
	Snapshot    Snapshot    `json:"snapshot" yaml:"snapshot"`
}

// VersionEntry describes one retained save in a composition's history.
type VersionEntry struct {
	Version   int       `json:"version" yaml:"version"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Name      string    `json:"name" yaml:"name"`
}

// MetadataUpdate is a partial update of composition metadata; nil fields are
// left unchanged.
type MetadataUpdate struct {
	Name          *string  `json:"name,omitempty"`
	Tempo         *float64 `json:"tempo,omitempty"`
	TimeSignature *string  `json:"time_signature,omitempty"`
}

// SaveOptions controls a whole-composition save.
type SaveOptions struct {
	CreateHistory bool `json:"create_history"`
	IsAutosave    bool `json:"is_autosave"`
}

// SaveResult reports the outcome of a save call.
type SaveResult struct {
	HistoryCreated bool `json:"history_created"`
}

// EmptySnapshot returns the snapshot a freshly created composition starts
// with. Maps are allocated so slice updates never hit a nil map.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Sequence:          SequenceDoc{Tracks: []Track{}},
		Mixer:             MixerState{Channels: []Channel{}, Master: MasterChannel{Volume: 1.0}},
		EffectChains:      map[string][]Effect{},
		SampleAssignments: map[string]SampleAssignment{},
	}
}

// countTracksAndClips recomputes the derived counters from a snapshot.
func countTracksAndClips(s Snapshot) (tracks, clips int) {
	tracks = len(s.Sequence.Tracks)
	for _, t := range s.Sequence.Tracks {
		clips += len(t.Clips)
	}
	return tracks, clips
}
