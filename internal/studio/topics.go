package studio

import "time"

// Broadcast topics are namespaced by partition. The value published on a
// partition topic is the full authoritative slice for that partition, never
// a delta.
const (
	TopicSequencerTracks   = "sequencer.tracks"
	TopicMixerChannels     = "mixer.channels"
	TopicEffectChains      = "effects.chains"
	TopicSampleAssignments = "samples.sampleAssignments"
	TopicCompositionSaved  = "composition.saved"
	TopicAutosaveLeader    = "autosave.leader"
)

// savedEvent announces a successful whole-composition save to sibling
// windows, which clear their own dirty flag on receipt.
type savedEvent struct {
	CompositionID string    `json:"composition_id"`
	SessionID     string    `json:"session_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// leaderBeat is the autosave leadership heartbeat. The session with the
// lexically lowest id wins.
type leaderBeat struct {
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}
