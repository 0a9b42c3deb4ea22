// Package storetest holds the conformance suite every store backend must
// pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/wpgarts/captcha/lib/store"
)

func newID(t *testing.T) string {
	t.Helper()
	return t.Name() + "/" + uuid.NewString()
}

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	clk := testclock.NewClock(time.Now())

	s, err := f.Build(t.Context(), clk, config)
	if err != nil {
		t.Fatal(err)
	}

	if c, ok := s.(interface{ Close() error }); ok {
		t.Cleanup(func() { c.Close() })
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic create find delete",
			doer: func(t *testing.T, s store.Interface) error {
				id := newID(t)

				if _, err := s.Find(t.Context(), id, true); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", id)
				}

				if err := s.Create(t.Context(), store.Record{ID: id, Answer: "K7X9Z", ExpiresAt: store.ExpiresIn(clk.Now(), 5*time.Minute)}); err != nil {
					return err
				}

				rec, err := s.Find(t.Context(), id, true)
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", id, err)
				} else if err != nil {
					t.Error(err)
				}

				if rec.Answer != "K7X9Z" {
					t.Logf("want: %q", "K7X9Z")
					t.Logf("got:  %q", rec.Answer)
					t.Error("wrong answer returned")
				}

				if rec.ExpiresAt == nil {
					t.Error("expiry was lost")
				}

				if err := s.Delete(t.Context(), id); err != nil {
					return err
				}

				if _, err := s.Find(t.Context(), id, false); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted record to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), id); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("record %q does not exist and Delete did not return ErrNotFound: %v", id, err)
				}

				return nil
			},
		},
		{
			name: "duplicate id",
			doer: func(t *testing.T, s store.Interface) error {
				id := newID(t)
				rec := store.Record{ID: id, Answer: "AAAAA", ExpiresAt: store.ExpiresIn(clk.Now(), time.Minute)}

				if err := s.Create(t.Context(), rec); err != nil {
					return err
				}

				return s.Create(t.Context(), rec)
			},
			err: store.ErrDuplicateID,
		},
		{
			name: "claim consumes",
			doer: func(t *testing.T, s store.Interface) error {
				id := newID(t)

				if err := s.Create(t.Context(), store.Record{ID: id, Answer: "ABCDE", ExpiresAt: store.ExpiresIn(clk.Now(), time.Minute)}); err != nil {
					return err
				}

				rec, err := s.Claim(t.Context(), id)
				if err != nil {
					return err
				}

				if rec.Answer != "ABCDE" {
					t.Errorf("wanted answer ABCDE, got %q", rec.Answer)
				}

				if _, err := s.Find(t.Context(), id, false); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("claimed record is still in the store: %v", err)
				}

				_, err = s.Claim(t.Context(), id)
				return err
			},
			err: store.ErrNotFound,
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				id := newID(t)

				if err := s.Create(t.Context(), store.Record{ID: id, Answer: "EXPRD", ExpiresAt: store.ExpiresIn(clk.Now(), time.Minute)}); err != nil {
					return err
				}

				clk.Advance(2 * time.Minute)

				if _, err := s.Find(t.Context(), id, true); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to be hidden once expired but it is visible: %v", id, err)
				}

				if _, err := s.Claim(t.Context(), id); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted expired record to not be claimable: %v", err)
				}

				n, err := s.PurgeExpired(t.Context())
				if err != nil {
					return err
				}

				if n < 1 {
					t.Errorf("wanted at least one record purged, got %d", n)
				}

				_, err = s.Find(t.Context(), id, false)
				return err
			},
			err: store.ErrNotFound,
		},
		{
			name: "no expiry is never purged",
			doer: func(t *testing.T, s store.Interface) error {
				id := newID(t)

				if err := s.Create(t.Context(), store.Record{ID: id, Answer: "NEVER"}); err != nil {
					return err
				}

				clk.Advance(24 * time.Hour)

				if _, err := s.PurgeExpired(t.Context()); err != nil {
					return err
				}

				if _, err := s.Find(t.Context(), id, true); err != nil {
					t.Errorf("record without expiry went missing: %v", err)
				}

				rec, err := s.Claim(t.Context(), id)
				if err != nil {
					return err
				}

				if rec.ExpiresAt != nil {
					t.Errorf("wanted nil expiry, got %v", rec.ExpiresAt)
				}

				return nil
			},
		},
		{
			name: "concurrent claims",
			doer: func(t *testing.T, s store.Interface) error {
				id := newID(t)

				if err := s.Create(t.Context(), store.Record{ID: id, Answer: "RACE1", ExpiresAt: store.ExpiresIn(clk.Now(), time.Minute)}); err != nil {
					return err
				}

				const workers = 16
				var (
					wg      sync.WaitGroup
					wins    atomic.Int32
					errLock sync.Mutex
					errs    []error
					start   = make(chan struct{})
				)

				for range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						_, err := s.Claim(context.WithoutCancel(t.Context()), id)
						switch {
						case err == nil:
							wins.Add(1)
						case errors.Is(err, store.ErrNotFound):
						default:
							errLock.Lock()
							errs = append(errs, err)
							errLock.Unlock()
						}
					}()
				}

				close(start)
				wg.Wait()

				if got := wins.Load(); got != 1 {
					t.Errorf("wanted exactly one successful claim, got %d", got)
				}

				return errors.Join(errs...)
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
