package valkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
	valkey "github.com/redis/go-redis/v9"
	"github.com/wpgarts/captcha/lib/store"
)

// Store keeps each record as a JSON string under Prefix+id. Records with an
// expiry also get a server-side TTL one second past ExpiresAt, so Valkey
// drops abandoned challenges on its own; PurgeExpired only has to catch
// records the configured clock considers expired before the server does.
type Store struct {
	rdb    *valkey.Client
	clk    clock.Clock
	prefix string
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) Create(ctx context.Context, rec store.Record) error {
	data, err := store.Encode(rec)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if rec.ExpiresAt != nil {
		ttl = rec.ExpiresAt.Sub(s.clk.Now()) + time.Second
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}

	ok, err := s.rdb.SetNX(ctx, s.key(rec.ID), string(data), ttl).Result()
	if err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", rec.ID, err)
	}

	if !ok {
		return fmt.Errorf("%w: %q", store.ErrDuplicateID, rec.ID)
	}

	return nil
}

func (s *Store) Find(ctx context.Context, id string, notExpiredOnly bool) (store.Record, error) {
	result, err := s.rdb.Get(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		return store.Record{}, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	rec, err := store.Decode([]byte(result))
	if err != nil {
		return store.Record{}, err
	}

	if notExpiredOnly && rec.Expired(s.clk.Now()) {
		return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	return rec, nil
}

// Claim uses GETDEL, so only one caller can ever receive the value. A record
// that turns out to be expired is reported as not found; it is gone either
// way.
func (s *Store) Claim(ctx context.Context, id string) (store.Record, error) {
	result, err := s.rdb.GetDel(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		return store.Record{}, fmt.Errorf("can't claim from valkey: %w", err)
	}

	rec, err := store.Decode([]byte(result))
	if err != nil {
		return store.Record{}, err
	}

	if rec.Expired(s.clk.Now()) {
		return store.Record{}, fmt.Errorf("%w: %q (expired)", store.ErrNotFound, id)
	}

	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("can't delete from valkey: %w", err)
	}

	switch n {
	case 0:
		return fmt.Errorf("%w: %d key(s) deleted", store.ErrNotFound, n)
	default:
		return nil
	}
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	now := s.clk.Now()
	purged := 0

	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		result, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, valkey.Nil) {
			continue
		}
		if err != nil {
			return purged, fmt.Errorf("can't fetch %q from valkey: %w", key, err)
		}

		rec, err := store.Decode([]byte(result))
		if err != nil {
			slog.Warn("while purging, record can't be decoded, skipping", "key", key, "err", err)
			continue
		}

		if !rec.Expired(now) {
			continue
		}

		n, err := s.rdb.Del(ctx, key).Result()
		if err != nil {
			return purged, fmt.Errorf("can't delete from valkey: %w", err)
		}
		purged += int(n)
	}

	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("can't scan valkey: %w", err)
	}

	return purged, nil
}
