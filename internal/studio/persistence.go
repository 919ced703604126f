package studio

import (
	"context"

	"tracklab/internal/composition"
)

// PersistenceService is the remote store contract the studio consumes. Both
// composition.Service (in-process, used by tests) and composition.Client
// (HTTP) satisfy it.
//
// Whole-composition saves carry no snapshot: the partition slice saves have
// already brought the server-side state up to date, and the save call stamps
// it (optionally retaining a history version).
type PersistenceService interface {
	CreateComposition(ctx context.Context, name string, tempo float64) (composition.Composition, error)
	ListCompositions(ctx context.Context) ([]composition.Composition, error)
	GetComposition(ctx context.Context, id composition.CompositionID, useAutosave bool) (composition.Document, error)
	UpdateComposition(ctx context.Context, id composition.CompositionID, upd composition.MetadataUpdate) (composition.Composition, error)
	SaveComposition(ctx context.Context, id composition.CompositionID, opts composition.SaveOptions) (composition.SaveResult, error)
	DeleteComposition(ctx context.Context, id composition.CompositionID) error
	ListHistory(ctx context.Context, id composition.CompositionID) ([]composition.VersionEntry, error)
	RestoreVersion(ctx context.Context, id composition.CompositionID, version int) (composition.Document, error)
	RecoverAutosave(ctx context.Context, id composition.CompositionID) (composition.Document, error)

	SaveSequence(ctx context.Context, id composition.CompositionID, doc composition.SequenceDoc) error
	SaveMixer(ctx context.Context, id composition.CompositionID, st composition.MixerState) error
	SaveEffectChain(ctx context.Context, id composition.CompositionID, trackID string, chain []composition.Effect) error
	SaveSampleAssignment(ctx context.Context, id composition.CompositionID, trackID string, a *composition.SampleAssignment) error
}

// ActiveIDFunc reports the composition the window currently has open, or ""
// when none is active. Partitions use it to address their slice saves.
type ActiveIDFunc func() composition.CompositionID
