package transferlog

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var boltDBBucket = []byte("transfers")

type boltDBStore struct {
	db *bbolt.DB
}

// BoltDBStore implements Store on top of BoltDB.
func BoltDBStore(path string) (Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %s", err)
		}

		return nil
	})
	if err != nil {
		db.Close() //nolint:errcheck,gosec
		return nil, err
	}

	return &boltDBStore{db: db}, nil
}

func (s *boltDBStore) Entry(id uuid.UUID) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(boltDBBucket).Get(id[:])
		if raw == nil {
			return ErrNotFound
		}
		entry = &Entry{}
		return json.Unmarshal(raw, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *boltDBStore) Record(entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Put(entry.ID[:], raw)
	})
}

func (s *boltDBStore) Close() error {
	return s.db.Close()
}
