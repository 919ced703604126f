package studio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
)

// Phase is the coordinator's lifecycle state. Each window tracks its own
// phase independently, even when several windows have the same composition
// open.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseLoaded  Phase = "loaded"
	PhaseSaving  Phase = "saving"
	PhaseError   Phase = "error"
)

// SaveState is the user-visible save status. IsSaving acts as the per-window
// save mutex: at most one save is in flight at a time.
type SaveState struct {
	IsSaving     bool
	LastSaveTime time.Time
	LastError    string
}

// Coordinator owns the active composition id and orchestrates the
// create/load/save/delete lifecycle. Loaded snapshots are handed to the
// Distributor; the dirty flag is fed by the DirtyTracker and cleared only by
// a successful save or load. A save requested while another is in flight is
// recorded as a single pending marker and re-run when the in-flight save
// settles, so intent is preserved without ever running two saves at once.
type Coordinator struct {
	svc       PersistenceService
	dist      *Distributor
	bus       bus.Bus
	log       *slog.Logger
	local     *LocalState
	sessionID string

	mu             sync.Mutex
	phase          Phase
	activeID       composition.CompositionID
	compositions   []composition.Composition
	hasUnsaved     bool
	save           SaveState
	isLoading      bool
	pendingSave    bool
	pendingVersion bool
	onActive       func(composition.CompositionID)

	unsubDirty func()
	unsubSaved func()
}

// NewCoordinator wires a coordinator to its collaborators. local may be nil
// to skip durable client-side state.
func NewCoordinator(svc PersistenceService, dist *Distributor, dirty *DirtyTracker, b bus.Bus, log *slog.Logger, local *LocalState, sessionID string) *Coordinator {
	c := &Coordinator{
		svc:       svc,
		dist:      dist,
		bus:       b,
		log:       log,
		local:     local,
		sessionID: sessionID,
		phase:     PhaseIdle,
	}
	c.unsubDirty = dirty.OnChange(func() {
		c.mu.Lock()
		c.hasUnsaved = true
		c.mu.Unlock()
	})
	c.unsubSaved = b.Subscribe(TopicCompositionSaved, c.onSiblingSaved)
	return c
}

// Close drops the coordinator's subscriptions.
func (c *Coordinator) Close() {
	if c.unsubDirty != nil {
		c.unsubDirty()
	}
	if c.unsubSaved != nil {
		c.unsubSaved()
	}
}

// onSiblingSaved clears the dirty flag when another window saves the same
// composition: under last-write-wins semantics its save covered our state
// too, since every local mutation was already broadcast and slice-persisted.
func (c *Coordinator) onSiblingSaved(raw json.RawMessage) {
	var ev savedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	c.mu.Lock()
	if ev.CompositionID == string(c.activeID) {
		c.hasUnsaved = false
		c.save.LastSaveTime = ev.SavedAt
	}
	c.mu.Unlock()
}

// SetActiveListener registers fn to be called whenever the active
// composition changes (with "" when it becomes null).
func (c *Coordinator) SetActiveListener(fn func(composition.CompositionID)) {
	c.mu.Lock()
	c.onActive = fn
	c.mu.Unlock()
}

func (c *Coordinator) notifyActive(id composition.CompositionID) {
	c.mu.Lock()
	fn := c.onActive
	c.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (c *Coordinator) persistActive(id composition.CompositionID) {
	if c.local == nil {
		return
	}
	if err := c.local.SetActiveComposition(string(id)); err != nil {
		c.log.Warn("persisting active composition failed", slog.String("error", err.Error()))
	}
}

// ActiveID returns the active composition id, or "" when none is open.
func (c *Coordinator) ActiveID() composition.CompositionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// HasUnsavedChanges reports whether unsaved local changes exist.
func (c *Coordinator) HasUnsavedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasUnsaved
}

// IsSaving reports whether a save is in flight.
func (c *Coordinator) IsSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save.IsSaving
}

// Phase returns the coordinator's current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SaveStatus returns a copy of the save state.
func (c *Coordinator) SaveStatus() SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save
}

// Compositions returns the last fetched composition list.
func (c *Coordinator) Compositions() []composition.Composition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]composition.Composition(nil), c.compositions...)
}

// ListCompositions refreshes and returns the composition list. Dirty state
// is not touched.
func (c *Coordinator) ListCompositions(ctx context.Context) ([]composition.Composition, error) {
	list, err := c.svc.ListCompositions(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.compositions = list
	c.mu.Unlock()
	return list, nil
}

// CreateComposition creates a new composition, hands its empty sequence to
// the sequencer partition, and activates it. On failure the active id is
// left unchanged and the error is returned to the caller.
func (c *Coordinator) CreateComposition(ctx context.Context, name string, tempo float64) (composition.Composition, error) {
	meta, err := c.svc.CreateComposition(ctx, name, tempo)
	if err != nil {
		c.mu.Lock()
		c.save.LastError = err.Error()
		c.mu.Unlock()
		return composition.Composition{}, err
	}

	if err := c.dist.DistributeSequence(composition.SequenceDoc{Tracks: []composition.Track{}}); err != nil {
		return composition.Composition{}, err
	}

	c.mu.Lock()
	c.activeID = meta.ID
	c.phase = PhaseLoaded
	c.hasUnsaved = false
	c.save.LastError = ""
	c.compositions = append([]composition.Composition{meta}, c.compositions...)
	c.mu.Unlock()

	c.persistActive(meta.ID)
	c.notifyActive(meta.ID)
	c.log.Info("composition created",
		slog.String("composition_id", string(meta.ID)),
		slog.String("name", meta.Name))
	return meta, nil
}

// LoadComposition fetches a composition's snapshot and distributes it to the
// partitions. On success the composition becomes active and the dirty flag
// is cleared; on failure the active id is reverted to null and persisted.
func (c *Coordinator) LoadComposition(ctx context.Context, id composition.CompositionID) error {
	return c.load(ctx, id, false)
}

// LoadFromAutosave is the crash-recovery path: identical to LoadComposition
// but sourced from the autosave slot.
func (c *Coordinator) LoadFromAutosave(ctx context.Context, id composition.CompositionID) error {
	return c.load(ctx, id, true)
}

func (c *Coordinator) load(ctx context.Context, id composition.CompositionID, useAutosave bool) error {
	c.mu.Lock()
	if c.isLoading {
		c.mu.Unlock()
		return ErrLoadInFlight
	}
	c.isLoading = true
	c.phase = PhaseLoading
	c.mu.Unlock()

	var doc composition.Document
	var err error
	if useAutosave {
		doc, err = c.svc.RecoverAutosave(ctx, id)
	} else {
		doc, err = c.svc.GetComposition(ctx, id, false)
	}

	var lerr *LoadError
	if err != nil {
		lerr = &LoadError{CompositionID: string(id), Err: err}
	} else if derr := c.dist.Distribute(doc.Snapshot); derr != nil {
		var le *LoadError
		if errors.As(derr, &le) {
			le.CompositionID = string(id)
			lerr = le
		} else {
			lerr = &LoadError{CompositionID: string(id), Err: derr}
		}
	}

	c.mu.Lock()
	c.isLoading = false
	if lerr != nil {
		c.phase = PhaseError
		c.save.LastError = lerr.Error()
		c.activeID = ""
		c.mu.Unlock()

		c.persistActive("")
		c.notifyActive("")
		c.log.Error("composition load failed",
			slog.String("composition_id", string(id)),
			slog.String("error", lerr.Error()))
		return lerr
	}

	c.activeID = id
	c.phase = PhaseLoaded
	c.hasUnsaved = false
	c.save.LastSaveTime = time.Now()
	c.save.LastError = ""
	c.mu.Unlock()

	c.persistActive(id)
	c.notifyActive(id)
	c.log.Info("composition loaded",
		slog.String("composition_id", string(id)),
		slog.Bool("from_autosave", useAutosave),
		slog.Int("tracks", len(doc.Snapshot.Sequence.Tracks)))
	return nil
}

// DeleteComposition deletes a composition. If it was active, the next
// available composition is loaded, or the active id stays null when none
// remain.
func (c *Coordinator) DeleteComposition(ctx context.Context, id composition.CompositionID) error {
	if err := c.svc.DeleteComposition(ctx, id); err != nil {
		c.mu.Lock()
		c.save.LastError = err.Error()
		c.mu.Unlock()
		return err
	}

	list, err := c.svc.ListCompositions(ctx)
	if err == nil {
		c.mu.Lock()
		c.compositions = list
		c.mu.Unlock()
	}

	c.mu.Lock()
	wasActive := c.activeID == id
	if wasActive {
		c.activeID = ""
		c.phase = PhaseIdle
		c.hasUnsaved = false
	}
	c.mu.Unlock()

	c.log.Info("composition deleted", slog.String("composition_id", string(id)))
	if !wasActive {
		return nil
	}

	c.persistActive("")
	c.notifyActive("")
	if len(list) > 0 {
		return c.load(ctx, list[0].ID, false)
	}
	return nil
}

// SaveComposition saves the active composition, optionally retaining a
// history version. It fails fast with ErrNoActiveComposition when nothing is
// open. A save requested while another is in flight returns nil immediately
// and runs once the in-flight save settles.
func (c *Coordinator) SaveComposition(ctx context.Context, createVersion bool) error {
	return c.saveWith(ctx, composition.SaveOptions{CreateHistory: createVersion}, true)
}

// Autosave runs a background save: no history version, and failures are not
// recorded in the user-visible save state. The dirty flag stays set on
// failure so the next autosave tick retries.
func (c *Coordinator) Autosave(ctx context.Context) error {
	return c.saveWith(ctx, composition.SaveOptions{IsAutosave: true}, false)
}

func (c *Coordinator) saveWith(ctx context.Context, opts composition.SaveOptions, surface bool) error {
	c.mu.Lock()
	if c.activeID == "" {
		if surface {
			c.save.LastError = ErrNoActiveComposition.Error()
		}
		c.mu.Unlock()
		return ErrNoActiveComposition
	}
	if c.save.IsSaving {
		c.pendingSave = true
		if opts.CreateHistory {
			c.pendingVersion = true
		}
		c.mu.Unlock()
		return nil
	}
	c.save.IsSaving = true
	c.phase = PhaseSaving

	var lastErr error
	var announce *savedEvent
	for {
		id := c.activeID
		c.mu.Unlock()

		res, err := c.svc.SaveComposition(ctx, id, opts)
		now := time.Now()

		c.mu.Lock()
		if err != nil {
			lastErr = err
			if surface {
				c.save.LastError = err.Error()
			}
			// Dirty stays set so a later save can retry.
		} else {
			lastErr = nil
			c.hasUnsaved = false
			c.save.LastSaveTime = now
			c.save.LastError = ""
			announce = &savedEvent{
				CompositionID: string(id),
				SessionID:     c.sessionID,
				SavedAt:       now,
			}
			c.log.Debug("composition saved",
				slog.String("composition_id", string(id)),
				slog.Bool("is_autosave", opts.IsAutosave),
				slog.Bool("history_created", res.HistoryCreated))
		}

		if !c.pendingSave {
			break
		}
		// Re-run the save that arrived while we were in flight.
		c.pendingSave = false
		opts = composition.SaveOptions{CreateHistory: c.pendingVersion}
		c.pendingVersion = false
		surface = true
	}

	c.save.IsSaving = false
	if lastErr != nil && surface {
		c.phase = PhaseError
	} else {
		c.phase = PhaseLoaded
	}
	c.mu.Unlock()

	if announce != nil {
		if err := c.bus.Publish(TopicCompositionSaved, announce); err != nil {
			c.log.Warn("save announcement failed", slog.String("error", err.Error()))
		}
	}
	return lastErr
}

// Resume reactivates the composition recorded in durable client state, if
// any. Returns the resumed id, or "" when there was nothing to resume.
func (c *Coordinator) Resume(ctx context.Context) (composition.CompositionID, error) {
	if c.local == nil {
		return "", nil
	}
	id, err := c.local.ActiveComposition()
	if err != nil || id == "" {
		return "", err
	}
	if err := c.load(ctx, composition.CompositionID(id), false); err != nil {
		return "", err
	}
	return composition.CompositionID(id), nil
}
