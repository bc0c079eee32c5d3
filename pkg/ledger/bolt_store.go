package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var policiesBucket = []byte("policies")

// BoltStore keeps one JSON record per policy id in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(policiesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create policies bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) NextID(day time.Time) (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(policiesBucket).NextSequence()
		if err != nil {
			return err
		}
		id = formatPolicyID(day, seq)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to allocate policy id: %w", err)
	}
	return id, nil
}

func (s *BoltStore) Put(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal policy %s: %w", e.PolicyID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(policiesBucket).Put([]byte(e.PolicyID), data)
	})
}

func (s *BoltStore) Get(id string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(policiesBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &e)
	})
	return e, err
}

// List returns entries in creation order.
func (s *BoltStore) List() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(policiesBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt policy record %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
