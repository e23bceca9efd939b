// Package history persists journaling sessions on disk. Persistence is
// strictly secondary to the conversation: callers log store failures and
// carry on.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/reverievoice/reverie/internal/types"
)

// ErrSessionNotFound is returned for operations on an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionPrefix = "session/"
	deviceIDKey   = "device_id"
)

// Store keeps sessions in a local badger database, one record per session.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DeviceID returns this install's opaque identifier, generating and
// persisting one on first use.
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(deviceIDKey))
		if err == nil {
			return item.Value(func(val []byte) error {
				id = string(val)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		id = uuid.NewString()
		return txn.Set([]byte(deviceIDKey), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("device id: %w", err)
	}
	return id, nil
}

// CreateSession starts a new session for the device and returns its ID.
func (s *Store) CreateSession(deviceID string) (string, error) {
	sess := types.Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		StartedAt: time.Now().UTC(),
	}
	if err := s.put(sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sess.ID, nil
}

// Append adds one completed exchange to the session.
func (s *Store) Append(sessionID string, ex types.Exchange) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}
	sess.Exchanges = append(sess.Exchanges, ex)
	if err := s.put(sess); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}

// End marks the session finished. Ending a session twice keeps the first
// end time.
func (s *Store) End(sessionID string) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}
	if sess.EndedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
	if err := s.put(sess); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Sessions lists the device's sessions, newest first.
func (s *Store) Sessions(deviceID string) ([]types.Session, error) {
	var out []types.Session
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(sessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sess types.Session
				if err := json.Unmarshal(val, &sess); err != nil {
					return err
				}
				if sess.DeviceID == deviceID {
					out = append(out, sess)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *Store) get(sessionID string) (types.Session, error) {
	var sess types.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return types.Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (s *Store) put(sess types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sess.ID), data)
	})
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}
