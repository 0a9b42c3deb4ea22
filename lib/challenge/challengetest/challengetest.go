// Package challengetest wires a Generator and Verifier to an in-memory store
// and a manual clock for tests.
package challengetest

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/wpgarts/captcha/lib/challenge"
	"github.com/wpgarts/captcha/lib/store"
	"github.com/wpgarts/captcha/lib/store/memory"
)

type Harness struct {
	Clock     *testclock.Clock
	Store     store.Interface
	Generator *challenge.Generator
	Verifier  *challenge.Verifier
}

// New returns a harness whose answers are drawn from a PRNG seeded with seed.
func New(t *testing.T, seed uint64) *Harness {
	t.Helper()

	clk := testclock.NewClock(time.Date(2025, time.June, 16, 12, 0, 0, 0, time.UTC))
	s := memory.New(clk)

	gen, err := challenge.NewGenerator(challenge.GeneratorOptions{
		Store: s,
		Clock: clk,
		Rand:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	})
	if err != nil {
		t.Fatal(err)
	}

	return &Harness{
		Clock:     clk,
		Store:     s,
		Generator: gen,
		Verifier:  challenge.NewVerifier(s),
	}
}

// Plant stores a record with a known answer and binds it to b, bypassing the
// generator's random draw.
func (h *Harness) Plant(t *testing.T, b challenge.Binding, id, answer string, ttl time.Duration) {
	t.Helper()

	if err := h.Store.Create(t.Context(), store.Record{
		ID:        id,
		Answer:    answer,
		ExpiresAt: store.ExpiresIn(h.Clock.Now(), ttl),
	}); err != nil {
		t.Fatal(err)
	}

	b.Set(id)
}
