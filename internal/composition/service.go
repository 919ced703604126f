package composition

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTempo is used when a composition is created without a tempo.
const DefaultTempo = 120

// DefaultTimeSignature is used for new compositions.
const DefaultTimeSignature = "4/4"

// ErrInvalidInput is returned for requests that fail validation.
var ErrInvalidInput = errors.New("invalid input")

// Service applies business rules (id minting, defaults, validation) and
// delegates storage to Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService returns a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// CreateComposition mints a new composition with an empty snapshot.
// An empty name defaults to "Untitled"; a non-positive tempo defaults to 120.
func (s *Service) CreateComposition(ctx context.Context, name string, tempo float64) (Composition, error) {
	if name == "" {
		name = "Untitled"
	}
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	now := s.now().UTC()
	meta := Composition{
		ID:            CompositionID(uuid.NewString()),
		Name:          name,
		Tempo:         tempo,
		TimeSignature: DefaultTimeSignature,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateComposition(ctx, meta, EmptySnapshot()); err != nil {
		return Composition{}, err
	}
	return meta, nil
}

// ListCompositions returns all stored compositions, most recently updated first.
func (s *Service) ListCompositions(ctx context.Context) ([]Composition, error) {
	return s.repo.ListCompositions(ctx)
}

// GetComposition returns the full document for a composition. With
// useAutosave set, the autosave slot is returned instead of the current
// snapshot.
func (s *Service) GetComposition(ctx context.Context, id CompositionID, useAutosave bool) (Document, error) {
	if id == "" {
		return Document{}, ErrInvalidInput
	}
	return s.repo.GetDocument(ctx, id, useAutosave)
}

// UpdateComposition applies a partial metadata update.
func (s *Service) UpdateComposition(ctx context.Context, id CompositionID, upd MetadataUpdate) (Composition, error) {
	if id == "" {
		return Composition{}, ErrInvalidInput
	}
	if upd.Tempo != nil && *upd.Tempo <= 0 {
		return Composition{}, ErrInvalidInput
	}
	return s.repo.UpdateMetadata(ctx, id, upd)
}

// SaveComposition stamps the server-side gathered snapshot. The snapshot
// itself is not part of the request: partition slice saves have already
// brought the current snapshot up to date.
func (s *Service) SaveComposition(ctx context.Context, id CompositionID, opts SaveOptions) (SaveResult, error) {
	if id == "" {
		return SaveResult{}, ErrInvalidInput
	}
	return s.repo.SaveComposition(ctx, id, opts)
}

// DeleteComposition removes a composition and its history.
func (s *Service) DeleteComposition(ctx context.Context, id CompositionID) error {
	if id == "" {
		return ErrInvalidInput
	}
	return s.repo.DeleteComposition(ctx, id)
}

// ListHistory returns retained versions, newest first.
func (s *Service) ListHistory(ctx context.Context, id CompositionID) ([]VersionEntry, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListHistory(ctx, id)
}

// RestoreVersion copies a retained version into the current snapshot and
// returns the resulting document.
func (s *Service) RestoreVersion(ctx context.Context, id CompositionID, version int) (Document, error) {
	if id == "" || version <= 0 {
		return Document{}, ErrInvalidInput
	}
	return s.repo.RestoreVersion(ctx, id, version)
}

// RecoverAutosave returns the last autosaved snapshot.
func (s *Service) RecoverAutosave(ctx context.Context, id CompositionID) (Document, error) {
	if id == "" {
		return Document{}, ErrInvalidInput
	}
	return s.repo.RecoverAutosave(ctx, id)
}

// SaveSequence replaces the sequencer slice of the current snapshot.
func (s *Service) SaveSequence(ctx context.Context, id CompositionID, doc SequenceDoc) error {
	if id == "" {
		return ErrInvalidInput
	}
	return s.repo.UpdateSequence(ctx, id, doc)
}

// SaveMixer replaces the mixer slice of the current snapshot.
func (s *Service) SaveMixer(ctx context.Context, id CompositionID, st MixerState) error {
	if id == "" {
		return ErrInvalidInput
	}
	return s.repo.UpdateMixer(ctx, id, st)
}

// SaveEffectChain replaces one track's effect chain.
func (s *Service) SaveEffectChain(ctx context.Context, id CompositionID, trackID string, chain []Effect) error {
	if id == "" || trackID == "" {
		return ErrInvalidInput
	}
	return s.repo.UpdateEffectChain(ctx, id, trackID, chain)
}

// SaveSampleAssignment sets or, with a nil assignment, removes one track's
// sample assignment.
func (s *Service) SaveSampleAssignment(ctx context.Context, id CompositionID, trackID string, a *SampleAssignment) error {
	if id == "" || trackID == "" {
		return ErrInvalidInput
	}
	return s.repo.UpdateSampleAssignment(ctx, id, trackID, a)
}

// CompositionCount returns the number of stored compositions. Used for metrics.
func (s *Service) CompositionCount(ctx context.Context) int {
	n, err := s.repo.CompositionCount(ctx)
	if err != nil {
		return 0
	}
	return n
}
