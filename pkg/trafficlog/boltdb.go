package trafficlog

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var boltDBBucket = []byte("traffic")

type boltDBStore struct {
	db *bbolt.DB
}

// BoltDBStore opens a Store kept in the bbolt database at path.
func BoltDBStore(path string) (Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return errors.Wrap(err, "failed to create bucket")
		}
		return nil
	})
	if err != nil {
		if cErr := db.Close(); cErr != nil {
			log.WithError(cErr).Warn("Failed to close bbolt database")
		}
		return nil, err
	}

	return &boltDBStore{db: db}, nil
}

func (s *boltDBStore) Entry(id uuid.UUID) (*Entry, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltDBBucket).Get(id[:]); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	entry := &Entry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, errors.Wrapf(err, "corrupt entry %s", id)
	}
	return entry, nil
}

func (s *boltDBStore) Record(id uuid.UUID, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Put(id[:], raw)
	})
}

func (s *boltDBStore) IDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).ForEach(func(k, _ []byte) error {
			id, err := uuid.FromBytes(k)
			if err != nil {
				log.WithError(err).Warnf("Skipping bad key %x", k)
				return nil
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

// Close closes the underlying bbolt database.
func (s *boltDBStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
