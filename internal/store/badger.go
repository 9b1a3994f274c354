// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
)

// BadgerStore persists state in an embedded Badger database. Events carry
// entry TTLs so retention is enforced by the database itself; keys embed a
// fixed-width timestamp so prefix iteration yields chronological order.
type BadgerStore struct {
	db       *badger.DB
	eventTTL time.Duration
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	Path     string
	InMemory bool
	EventTTL time.Duration
}

// NewBadgerStore opens (or creates) the database at opts.Path.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{})
	if opts.InMemory {
		badgerOpts.Dir = ""
		badgerOpts.ValueDir = ""
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db, eventTTL: opts.EventTTL}, nil
}

func eventKeyPrefix(id identity.Identity) []byte {
	return []byte("event:" + string(id) + ":")
}

// eventKey is event:<identity>:<zero-padded unixnano>:<id>. The padded
// timestamp keeps lexical order equal to chronological order.
func eventKey(ev StoredEvent) []byte {
	return []byte(fmt.Sprintf("event:%s:%020d:%s", ev.Identity, ev.Timestamp.UnixNano(), ev.ID))
}

func deviceKey(id identity.Identity, fingerprint string) []byte {
	return []byte("device:" + string(id) + ":" + fingerprint)
}

func flagKey(key string) []byte {
	return []byte("flag:" + key)
}

// AppendEvent writes the event with the retention TTL.
func (s *BadgerStore) AppendEvent(_ context.Context, ev StoredEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(eventKey(ev), data).WithTTL(s.eventTTL)
		return txn.SetEntry(entry)
	})
}

// QueryEvents iterates the identity's event prefix from since forward.
func (s *BadgerStore) QueryEvents(_ context.Context, id identity.Identity, since time.Time) ([]StoredEvent, error) {
	prefix := eventKeyPrefix(id)
	seek := []byte(fmt.Sprintf("event:%s:%020d:", id, since.UnixNano()))

	var out []StoredEvent
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev StoredEvent
				if err := json.Unmarshal(val, &ev); err != nil {
					return fmt.Errorf("decode event: %w", err)
				}
				out = append(out, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterDevice writes the fingerprint presence key, reporting whether it
// already existed. Read and write happen in one transaction so concurrent
// first sightings cannot both report unknown.
func (s *BadgerStore) RegisterDevice(_ context.Context, id identity.Identity, fingerprint string) (bool, error) {
	key := deviceKey(id, fingerprint)
	known := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			known = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return txn.Set(key, []byte{1})
		default:
			return err
		}
	})
	return known, err
}

// SetFlag writes the flag with its TTL.
func (s *BadgerStore) SetFlag(_ context.Context, key, reason string, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(flagKey(key), []byte(reason)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// GetFlag reads the flag if present and unexpired.
func (s *BadgerStore) GetFlag(_ context.Context, key string) (string, bool, error) {
	var reason string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(flagKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			reason = string(val)
			return nil
		})
	})
	return reason, found, err
}

// Sweep triggers value log garbage collection. Badger expires entries on
// read; GC reclaims the space.
func (s *BadgerStore) Sweep(time.Time) {
	if err := s.db.RunValueLogGC(0.5); err != nil &&
		!errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
		logging.Warn().Err(err).Msg("badger value log GC failed")
	}
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes Badger's internal logging through zerolog. Badger is
// chatty at INFO, so its info output is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+format, args...)
}
