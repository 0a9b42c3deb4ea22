// Package postgres stores challenge records in a PostgreSQL table, so any
// number of service instances can share outstanding challenges.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
)

//go:embed schema.sql
var Schema string

// Every query takes the current time as a parameter instead of calling
// NOW(), so expiry decisions use the same clock as the rest of the service.
const (
	createQuery = `
INSERT INTO captcha_sessions (id, captcha_text, expires_at)
VALUES ($1, $2, $3)
`
	findQuery     = `SELECT captcha_text, expires_at FROM captcha_sessions WHERE id = $1`
	findLiveQuery = `
SELECT captcha_text, expires_at FROM captcha_sessions
WHERE id = $1 AND (expires_at IS NULL OR expires_at >= $2)
`
	claimQuery = `
DELETE FROM captcha_sessions
WHERE id = $1 AND (expires_at IS NULL OR expires_at >= $2)
RETURNING captcha_text, expires_at
`
	deleteQuery = `DELETE FROM captcha_sessions WHERE id = $1`
	purgeQuery  = `DELETE FROM captcha_sessions WHERE expires_at IS NOT NULL AND expires_at < $1`

	uniqueViolation = "23505"
)

// Compile-time check for ensuring Store implements store.Interface.
var _ store.Interface = (*Store)(nil)

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store implements store.Interface on top of a captcha_sessions table.
type Store struct {
	db    DB
	clk   clock.Clock
	close func()
}

// New wraps an existing connection. The schema must already exist.
func New(db DB, clk clock.Clock) *Store {
	return &Store{db: db, clk: store.ClockOrWall(clk)}
}

// Close returns pooled connections if the Store owns its pool.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clk.Now().UTC()
}

func (s *Store) Create(ctx context.Context, rec store.Record) error {
	var expiresAt *time.Time
	if rec.ExpiresAt != nil {
		t := rec.ExpiresAt.UTC()
		expiresAt = &t
	}

	if _, err := s.db.Exec(ctx, createQuery, rec.ID, rec.Answer, expiresAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %q", store.ErrDuplicateID, rec.ID)
		}

		return fmt.Errorf("create record: %w", err)
	}

	return nil
}

func (s *Store) Find(ctx context.Context, id string, notExpiredOnly bool) (store.Record, error) {
	var row pgx.Row
	if notExpiredOnly {
		row = s.db.QueryRow(ctx, findLiveQuery, id, s.now())
	} else {
		row = s.db.QueryRow(ctx, findQuery, id)
	}

	rec, err := scanRecord(id, row)
	if err != nil {
		return store.Record{}, fmt.Errorf("find record: %w", err)
	}

	return rec, nil
}

// Claim deletes and returns a live record with a single DELETE ... RETURNING
// statement. Postgres row locking guarantees that at most one concurrent
// statement gets the row back.
func (s *Store) Claim(ctx context.Context, id string) (store.Record, error) {
	rec, err := scanRecord(id, s.db.QueryRow(ctx, claimQuery, id, s.now()))
	if err != nil {
		return store.Record{}, fmt.Errorf("claim record: %w", err)
	}

	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, deleteQuery, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	return nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, purgeQuery, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired records: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanRecord(id string, row pgx.Row) (store.Record, error) {
	rec := store.Record{ID: id}

	if err := row.Scan(&rec.Answer, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}

		return store.Record{}, err
	}

	if rec.ExpiresAt != nil {
		t := rec.ExpiresAt.UTC()
		rec.ExpiresAt = &t
	}

	return rec, nil
}
