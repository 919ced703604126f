package composition

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// stored compositions. The current snapshot is updated continuously by the
// partition slice saves; a whole-composition save stamps it (and optionally
// retains a history version), while an autosave copies it into the autosave
// slot without touching history.
type Repository interface {
	// CreateComposition stores a new composition with its initial snapshot.
	CreateComposition(ctx context.Context, meta Composition, snap Snapshot) error

	// GetComposition returns the metadata for one composition.
	GetComposition(ctx context.Context, id CompositionID) (Composition, error)

	// ListCompositions returns metadata for all compositions, most recently
	// updated first.
	ListCompositions(ctx context.Context) ([]Composition, error)

	// GetDocument returns the metadata and full snapshot. With useAutosave
	// set, the autosave slot is returned instead of the current snapshot.
	GetDocument(ctx context.Context, id CompositionID, useAutosave bool) (Document, error)

	// UpdateMetadata applies a partial metadata update and returns the result.
	UpdateMetadata(ctx context.Context, id CompositionID, upd MetadataUpdate) (Composition, error)

	// SaveComposition stamps the current snapshot. CreateHistory retains a
	// version entry; IsAutosave writes the autosave slot instead.
	SaveComposition(ctx context.Context, id CompositionID, opts SaveOptions) (SaveResult, error)

	// DeleteComposition removes a composition and its history.
	DeleteComposition(ctx context.Context, id CompositionID) error

	// ListHistory returns retained versions, newest first.
	ListHistory(ctx context.Context, id CompositionID) ([]VersionEntry, error)

	// RestoreVersion copies the named version's snapshot into the current
	// snapshot and returns the resulting document.
	RestoreVersion(ctx context.Context, id CompositionID, version int) (Document, error)

	// RecoverAutosave returns the autosave slot, or ErrNoAutosave if empty.
	RecoverAutosave(ctx context.Context, id CompositionID) (Document, error)

	// UpdateSequence replaces the sequencer slice of the current snapshot.
	UpdateSequence(ctx context.Context, id CompositionID, doc SequenceDoc) error

	// UpdateMixer replaces the mixer slice of the current snapshot.
	UpdateMixer(ctx context.Context, id CompositionID, st MixerState) error

	// UpdateEffectChain replaces one track's effect chain.
	UpdateEffectChain(ctx context.Context, id CompositionID, trackID string, chain []Effect) error

	// UpdateSampleAssignment sets or, with a nil assignment, removes one
	// track's sample assignment.
	UpdateSampleAssignment(ctx context.Context, id CompositionID, trackID string, a *SampleAssignment) error

	// CompositionCount returns the number of stored compositions. Used for
	// metrics.
	CompositionCount(ctx context.Context) (int, error)
}

var (
	// ErrNotFound is returned when the composition id is unknown.
	ErrNotFound = errors.New("composition not found")

	// ErrVersionNotFound is returned when the requested history version does
	// not exist.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoAutosave is returned when recovery is requested but no autosave
	// has been written.
	ErrNoAutosave = errors.New("no autosave available")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of
// Repository. It uses a Store for record access; by default that is an
// InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, now: time.Now}
}

// cloneJSON deep-copies v through its JSON form so stored state never
// aliases caller memory (and vice versa).
func cloneJSON[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// cloneSnapshot deep-copies a snapshot and normalises its maps.
func cloneSnapshot(s Snapshot) Snapshot {
	out := cloneJSON(s)
	if out.EffectChains == nil {
		out.EffectChains = map[string][]Effect{}
	}
	if out.SampleAssignments == nil {
		out.SampleAssignments = map[string]SampleAssignment{}
	}
	return out
}

// CreateComposition implements Repository.CreateComposition.
func (r *InMemoryRepository) CreateComposition(ctx context.Context, meta Composition, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracks, clips := countTracksAndClips(snap)
	meta.TrackCount = tracks
	meta.ClipCount = clips

	r.store.Set(&record{
		Meta:        meta,
		Current:     cloneSnapshot(snap),
		NextVersion: 1,
	})
	return nil
}

// GetComposition implements Repository.GetComposition.
func (r *InMemoryRepository) GetComposition(ctx context.Context, id CompositionID) (Composition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return Composition{}, ErrNotFound
	}
	return rec.Meta, nil
}

// ListCompositions implements Repository.ListCompositions.
func (r *InMemoryRepository) ListCompositions(ctx context.Context) ([]Composition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Composition, 0)
	for _, id := range r.store.ListIDs() {
		if rec, ok := r.store.Get(id); ok {
			out = append(out, rec.Meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetDocument implements Repository.GetDocument.
func (r *InMemoryRepository) GetDocument(ctx context.Context, id CompositionID, useAutosave bool) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return Document{}, ErrNotFound
	}
	if useAutosave {
		if rec.Autosave == nil {
			return Document{}, ErrNoAutosave
		}
		return Document{Composition: rec.Meta, Snapshot: cloneSnapshot(*rec.Autosave)}, nil
	}
	return Document{Composition: rec.Meta, Snapshot: cloneSnapshot(rec.Current)}, nil
}

// UpdateMetadata implements Repository.UpdateMetadata.
func (r *InMemoryRepository) UpdateMetadata(ctx context.Context, id CompositionID, upd MetadataUpdate) (Composition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return Composition{}, ErrNotFound
	}
	if upd.Name != nil {
		rec.Meta.Name = *upd.Name
	}
	if upd.Tempo != nil {
		rec.Meta.Tempo = *upd.Tempo
	}
	if upd.TimeSignature != nil {
		rec.Meta.TimeSignature = *upd.TimeSignature
	}
	rec.Meta.UpdatedAt = r.now().UTC()
	return rec.Meta, nil
}

// SaveComposition implements Repository.SaveComposition.
func (r *InMemoryRepository) SaveComposition(ctx context.Context, id CompositionID, opts SaveOptions) (SaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return SaveResult{}, ErrNotFound
	}

	now := r.now().UTC()

	if opts.IsAutosave {
		snap := cloneSnapshot(rec.Current)
		rec.Autosave = &snap
		rec.AutosaveAt = now
		return SaveResult{}, nil
	}

	tracks, clips := countTracksAndClips(rec.Current)
	rec.Meta.TrackCount = tracks
	rec.Meta.ClipCount = clips
	rec.Meta.UpdatedAt = now

	if !opts.CreateHistory {
		return SaveResult{}, nil
	}

	rec.History = append(rec.History, versionRecord{
		Entry: VersionEntry{
			Version:   rec.NextVersion,
			Timestamp: now,
			Name:      rec.Meta.Name,
		},
		Snapshot: cloneSnapshot(rec.Current),
	})
	rec.NextVersion++
	return SaveResult{HistoryCreated: true}, nil
}

// DeleteComposition implements Repository.DeleteComposition.
func (r *InMemoryRepository) DeleteComposition(ctx context.Context, id CompositionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.store.Get(id); !ok {
		return ErrNotFound
	}
	r.store.Delete(id)
	return nil
}

// ListHistory implements Repository.ListHistory.
func (r *InMemoryRepository) ListHistory(ctx context.Context, id CompositionID) ([]VersionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]VersionEntry, 0, len(rec.History))
	for i := len(rec.History) - 1; i >= 0; i-- {
		out = append(out, rec.History[i].Entry)
	}
	return out, nil
}

// RestoreVersion implements Repository.RestoreVersion.
func (r *InMemoryRepository) RestoreVersion(ctx context.Context, id CompositionID, version int) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return Document{}, ErrNotFound
	}
	for _, vr := range rec.History {
		if vr.Entry.Version == version {
			rec.Current = cloneSnapshot(vr.Snapshot)
			tracks, clips := countTracksAndClips(rec.Current)
			rec.Meta.TrackCount = tracks
			rec.Meta.ClipCount = clips
			rec.Meta.UpdatedAt = r.now().UTC()
			return Document{Composition: rec.Meta, Snapshot: cloneSnapshot(rec.Current)}, nil
		}
	}
	return Document{}, ErrVersionNotFound
}

// RecoverAutosave implements Repository.RecoverAutosave.
func (r *InMemoryRepository) RecoverAutosave(ctx context.Context, id CompositionID) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return Document{}, ErrNotFound
	}
	if rec.Autosave == nil {
		return Document{}, ErrNoAutosave
	}
	return Document{Composition: rec.Meta, Snapshot: cloneSnapshot(*rec.Autosave)}, nil
}

// UpdateSequence implements Repository.UpdateSequence.
func (r *InMemoryRepository) UpdateSequence(ctx context.Context, id CompositionID, doc SequenceDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	rec.Current.Sequence = cloneJSON(doc)
	tracks, clips := countTracksAndClips(rec.Current)
	rec.Meta.TrackCount = tracks
	rec.Meta.ClipCount = clips
	rec.Meta.UpdatedAt = r.now().UTC()
	return nil
}

// UpdateMixer implements Repository.UpdateMixer.
func (r *InMemoryRepository) UpdateMixer(ctx context.Context, id CompositionID, st MixerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	rec.Current.Mixer = cloneJSON(st)
	rec.Meta.UpdatedAt = r.now().UTC()
	return nil
}

// UpdateEffectChain implements Repository.UpdateEffectChain.
func (r *InMemoryRepository) UpdateEffectChain(ctx context.Context, id CompositionID, trackID string, chain []Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if rec.Current.EffectChains == nil {
		rec.Current.EffectChains = map[string][]Effect{}
	}
	rec.Current.EffectChains[trackID] = cloneJSON(chain)
	rec.Meta.UpdatedAt = r.now().UTC()
	return nil
}

// UpdateSampleAssignment implements Repository.UpdateSampleAssignment.
func (r *InMemoryRepository) UpdateSampleAssignment(ctx context.Context, id CompositionID, trackID string, a *SampleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if rec.Current.SampleAssignments == nil {
		rec.Current.SampleAssignments = map[string]SampleAssignment{}
	}
	if a == nil {
		delete(rec.Current.SampleAssignments, trackID)
	} else {
		rec.Current.SampleAssignments[trackID] = *a
	}
	rec.Meta.UpdatedAt = r.now().UTC()
	return nil
}

// CompositionCount implements Repository.CompositionCount.
func (r *InMemoryRepository) CompositionCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListIDs()), nil
}
