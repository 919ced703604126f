package composition

import "time"

// versionRecord retains the snapshot behind one history entry.
type versionRecord struct {
	Entry    VersionEntry
	Snapshot Snapshot
}

// record is the full stored state of one composition: metadata, the current
// snapshot (updated continuously by partition slice saves), the autosave
// slot, and retained history.
type record struct {
	Meta        Composition
	Current     Snapshot
	Autosave    *Snapshot
	AutosaveAt  time.Time
	History     []versionRecord
	NextVersion int
}

// Store is the persistence abstraction for composition records.
// Implementations can be in-memory or backed by a database. The Repository
// uses Store for all reads and writes; callers of Repository do not need to
// know which Store is used.
type Store interface {
	Get(id CompositionID) (*record, bool)
	Set(r *record)
	Delete(id CompositionID)
	ListIDs() []CompositionID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	records map[CompositionID]*record
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[CompositionID]*record),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id CompositionID) (*record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(r *record) {
	s.records[r.Meta.ID] = r
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(id CompositionID) {
	delete(s.records, id)
}

// ListIDs implements Store.ListIDs.
func (s *InMemoryStore) ListIDs() []CompositionID {
	ids := make([]CompositionID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}
