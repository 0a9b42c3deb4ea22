// Package badger stores challenge records in an embedded BadgerDB instance,
// either on disk or fully in memory.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
)

const (
	keyPrefix = "captcha/challenge/"

	// Optimistic transactions that lose a race on the same key are retried
	// this many times before giving up.
	maxConflictRetries = 8
)

// Compile-time check for ensuring Store implements store.Interface.
var _ store.Interface = (*Store)(nil)

// Store implements store.Interface on top of BadgerDB. Each record is a
// JSON value under keyPrefix+id. Entries also carry a badger TTL slightly
// past ExpiresAt so the value log eventually drops records nobody purged.
type Store struct {
	db  *badger.DB
	clk clock.Clock
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec store.Record) error {
	val, err := store.Encode(rec)
	if err != nil {
		return err
	}

	entry := badger.NewEntry(key(rec.ID), val)
	if rec.ExpiresAt != nil {
		entry = entry.WithTTL(rec.ExpiresAt.Sub(s.clk.Now()) + time.Second)
	}

	return s.update(func(txn *badger.Txn) error {
		switch _, err := txn.Get(entry.Key); {
		case err == nil:
			return fmt.Errorf("%w: %q", store.ErrDuplicateID, rec.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("can't check for %q: %w", rec.ID, err)
		}

		return txn.SetEntry(entry)
	})
}

func (s *Store) Find(ctx context.Context, id string, notExpiredOnly bool) (store.Record, error) {
	var rec store.Record

	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		return err
	}); err != nil {
		return store.Record{}, err
	}

	if notExpiredOnly && rec.Expired(s.clk.Now()) {
		return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	return rec, nil
}

// Claim reads and deletes the record in one read-write transaction. Badger
// detects the read-write conflict when two claims race, and the loser's retry
// then sees the key as gone.
func (s *Store) Claim(ctx context.Context, id string) (store.Record, error) {
	var rec store.Record

	if err := s.update(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		if err != nil {
			return err
		}

		if rec.Expired(s.clk.Now()) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		return txn.Delete(key(id))
	}); err != nil {
		return store.Record{}, err
	}

	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %q", store.ErrNotFound, id)
			}
			return err
		}

		return txn.Delete(key(id))
	})
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	now := s.clk.Now()
	var expired [][]byte

	if err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var rec store.Record
			err := item.Value(func(val []byte) error {
				var err error
				rec, err = store.Decode(val)
				return err
			})
			switch {
			case errors.Is(err, store.ErrCantDecode):
				slog.Warn("while purging, record can't be decoded, skipping", "key", string(item.Key()), "err", err)
				continue
			case err != nil:
				return err
			}

			if rec.Expired(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}

		return nil
	}); err != nil {
		return 0, fmt.Errorf("can't scan for expired records: %w", err)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range expired {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("can't delete expired record: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("can't delete expired records: %w", err)
	}

	return len(expired), nil
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}

	return err
}

func readRecord(txn *badger.Txn, id string) (store.Record, error) {
	item, err := txn.Get(key(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}
		return store.Record{}, err
	}

	var rec store.Record
	if err := item.Value(func(val []byte) error {
		rec, err = store.Decode(val)
		return err
	}); err != nil {
		return store.Record{}, err
	}

	return rec, nil
}
