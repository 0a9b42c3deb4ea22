package bbolt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
	"go.etcd.io/bbolt"
)

var (
	answerKey = []byte("answer")
	expiryKey = []byte("expiry")
)

// Store implements store.Interface backed by bbolt[1].
//
// In essence, bbolt is a hierarchical key/value store with a twist: every value
// needs to belong to a bucket. Buckets can contain an infinite number of
// buckets. As such, every challenge record is given its own bucket named
// after the record id with up to two keys:
//
// 1. answer - The answer text
// 2. expiry - The expiry time formatted as a time.RFC3339Nano timestamp string,
// absent when the record never expires
//
// This allows the purge phase to iterate over every bucket in the database and
// only scan the expiry times.
//
// bbolt allows one writer at a time, so Claim runs its check and its delete
// inside a single write transaction. bbolt is not suitable for environments
// where multiple instances need to read from and write to the same backend
// store. For that, use the valkey or postgres storage backends.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
	clk clock.Clock
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.bdb.Close()
}

// Create a new record bucket. If the bucket already exists, return an error.
func (s *Store) Create(ctx context.Context, rec store.Record) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(rec.ID)) != nil {
			return fmt.Errorf("%w: %q", store.ErrDuplicateID, rec.ID)
		}

		valueBkt, err := tx.CreateBucket([]byte(rec.ID))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, rec.ID)
		}

		if err := valueBkt.Put(answerKey, []byte(rec.Answer)); err != nil {
			return fmt.Errorf("%w: %q (answer)", store.ErrCantEncode, rec.ID)
		}

		if rec.ExpiresAt != nil {
			if err := valueBkt.Put(expiryKey, []byte(rec.ExpiresAt.UTC().Format(time.RFC3339Nano))); err != nil {
				return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, rec.ID)
			}
		}

		return nil
	})
}

// Find a record in the datastore.
func (s *Store) Find(ctx context.Context, id string, notExpiredOnly bool) (store.Record, error) {
	var result store.Record

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		rec, err := readRecord(tx, id)
		if err != nil {
			return err
		}

		if notExpiredOnly && rec.Expired(s.clk.Now()) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		result = rec
		return nil
	}); err != nil {
		return store.Record{}, err
	}

	return result, nil
}

// Claim reads and deletes a live record in one write transaction.
func (s *Store) Claim(ctx context.Context, id string) (store.Record, error) {
	var result store.Record

	if err := s.bdb.Update(func(tx *bbolt.Tx) error {
		rec, err := readRecord(tx, id)
		if err != nil {
			return err
		}

		if rec.Expired(s.clk.Now()) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		if err := tx.DeleteBucket([]byte(id)); err != nil {
			return fmt.Errorf("can't delete bucket %q: %w", id, err)
		}

		result = rec
		return nil
	}); err != nil {
		return store.Record{}, err
	}

	return result, nil
}

// Delete a record from the datastore. If the record does not exist, return an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(id)) == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		return tx.DeleteBucket([]byte(id))
	})
}

// PurgeExpired walks every record bucket and deletes the expired ones.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	now := s.clk.Now()
	var expired [][]byte

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		if err := tx.ForEach(func(key []byte, valueBkt *bbolt.Bucket) error {
			expiryStr := valueBkt.Get(expiryKey)
			if expiryStr == nil {
				return nil
			}

			expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
			if err != nil {
				slog.Warn("while purging, expiry can't be parsed, file a bug?", "key", string(key), "err", err)
				return nil
			}

			if expiry.Before(now) {
				expired = append(expired, append([]byte(nil), key...))
			}

			return nil
		}); err != nil {
			return err
		}

		// buckets can't be deleted while ForEach is iterating over them
		for _, key := range expired {
			if err := tx.DeleteBucket(key); err != nil {
				return fmt.Errorf("can't delete bucket %q: %w", string(key), err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(expired), nil
}

func readRecord(tx *bbolt.Tx, id string) (store.Record, error) {
	itemBucket := tx.Bucket([]byte(id))
	if itemBucket == nil {
		return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	answer := itemBucket.Get(answerKey)
	if answer == nil {
		return store.Record{}, fmt.Errorf("[unexpected] %w: %q (answer is nil)", store.ErrNotFound, id)
	}

	rec := store.Record{
		ID:     id,
		Answer: string(answer),
	}

	if expiryStr := itemBucket.Get(expiryKey); expiryStr != nil {
		expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
		if err != nil {
			return store.Record{}, fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
		}
		rec.ExpiresAt = &expiry
	}

	return rec, nil
}
