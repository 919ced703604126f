package studio

import (
	"context"
	"log/slog"

	"tracklab/internal/composition"
)

// HistoryManager is thin orchestration over version history: listing,
// restoring a version, and recovering the last autosave. Restores re-enter
// the coordinator's load path, so a restored snapshot is distributed with
// exactly the same invariants as an ordinary load.
type HistoryManager struct {
	svc   PersistenceService
	coord *Coordinator
	log   *slog.Logger
}

// NewHistoryManager returns a HistoryManager.
func NewHistoryManager(svc PersistenceService, coord *Coordinator, log *slog.Logger) *HistoryManager {
	return &HistoryManager{svc: svc, coord: coord, log: log}
}

// ListHistory returns the retained versions in server order (newest first);
// the client does not re-sort.
func (m *HistoryManager) ListHistory(ctx context.Context, id composition.CompositionID) ([]composition.VersionEntry, error) {
	return m.svc.ListHistory(ctx, id)
}

// RestoreVersion restores a retained version server-side and then reloads
// the composition through the normal load path.
func (m *HistoryManager) RestoreVersion(ctx context.Context, id composition.CompositionID, version int) error {
	if _, err := m.svc.RestoreVersion(ctx, id, version); err != nil {
		return err
	}
	m.log.Info("version restored",
		slog.String("composition_id", string(id)),
		slog.Int("version", version))
	return m.coord.LoadComposition(ctx, id)
}

// RecoverFromAutosave loads the last autosaved snapshot through the normal
// load path. This is the crash-recovery escape hatch, distinct from
// ordinary version history.
func (m *HistoryManager) RecoverFromAutosave(ctx context.Context, id composition.CompositionID) error {
	return m.coord.LoadFromAutosave(ctx, id)
}
