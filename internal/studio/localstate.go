package studio

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionBucket = []byte("session")
	activeKey     = []byte("active_composition")
)

// LocalState is the durable client-side state: the id of the last open
// composition, persisted so a new session can auto-resume it. This is the
// only state the studio persists outside of memory and the remote service.
type LocalState struct {
	db *bolt.DB
}

// OpenLocalState opens (or creates) the state file at path.
func OpenLocalState(path string) (*LocalState, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalState{db: db}, nil
}

// SetActiveComposition records id as the last open composition; an empty id
// clears the record.
func (s *LocalState) SetActiveComposition(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if id == "" {
			return b.Delete(activeKey)
		}
		return b.Put(activeKey, []byte(id))
	})
}

// ActiveComposition returns the last recorded composition id, or "" when
// none is recorded.
func (s *LocalState) ActiveComposition() (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionBucket).Get(activeKey); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, err
}

// Close closes the state file.
func (s *LocalState) Close() error {
	return s.db.Close()
}
