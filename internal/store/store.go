// Package store archives ended calls in an embedded badger database so that
// call records survive being purged from the in-memory registry.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"ai-voice-call-service/internal/service/session"
)

var ErrNotFound = errors.New("call record not found")

const (
	sessionPrefix = "session/"
	callPrefix    = "call/"
)

// CallStore persists call snapshots.
type CallStore struct {
	db *badger.DB
}

// Open opens (creating if needed) a store under path.
func Open(path string) (*CallStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &CallStore{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*CallStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger database: %w", err)
	}
	return &CallStore{db: db}, nil
}

// Save writes a snapshot and points its call id at it.
func (s *CallStore) Save(snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(sessionPrefix+snap.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(callPrefix+snap.CallID), []byte(snap.ID))
	})
}

// Get returns the record for a session id, or the latest one for a call id.
func (s *CallStore) Get(id string) (*session.Snapshot, error) {
	var snap session.Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			ref, rerr := txn.Get([]byte(callPrefix + id))
			if rerr != nil {
				return rerr
			}
			sid, rerr := ref.ValueCopy(nil)
			if rerr != nil {
				return rerr
			}
			item, err = txn.Get([]byte(sessionPrefix + string(sid)))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &snap, nil
}

// List returns up to limit archived records in key order. A limit of zero
// or less returns all of them.
func (s *CallStore) List(limit int) ([]session.Snapshot, error) {
	var out []session.Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(sessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var snap session.Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			out = append(out, snap)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *CallStore) Close() error {
	return s.db.Close()
}
