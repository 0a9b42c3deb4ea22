package challenge_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wpgarts/captcha"
	"github.com/wpgarts/captcha/lib/challenge"
	"github.com/wpgarts/captcha/lib/challenge/challengetest"
	"github.com/wpgarts/captcha/lib/session"
	"github.com/wpgarts/captcha/lib/store"
)

func TestGenerateAnswerShape(t *testing.T) {
	h := challengetest.New(t, 1)

	for range 200 {
		b := session.New("")

		answer, err := h.Generator.Generate(t.Context(), b)
		if err != nil {
			t.Fatal(err)
		}

		if len(answer) != captcha.DefaultAnswerLength {
			t.Fatalf("answer %q has length %d, want %d", answer, len(answer), captcha.DefaultAnswerLength)
		}

		for _, r := range answer {
			if !strings.ContainsRune(captcha.Alphabet, r) {
				t.Fatalf("answer %q contains %q which is not in the alphabet", answer, r)
			}
		}

		id, ok := b.ID()
		if !ok {
			t.Fatal("Generate did not bind the record")
		}

		rec, err := h.Store.Find(t.Context(), id, true)
		if err != nil {
			t.Fatal(err)
		}

		if rec.Answer != answer {
			t.Errorf("stored answer %q differs from returned answer %q", rec.Answer, answer)
		}

		if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(h.Clock.Now().Add(captcha.DefaultChallengeTTL)) {
			t.Errorf("wrong expiry: %v", rec.ExpiresAt)
		}
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	a := challengetest.New(t, 42)
	b := challengetest.New(t, 42)

	for range 10 {
		x, err := a.Generator.Generate(t.Context(), session.New(""))
		if err != nil {
			t.Fatal(err)
		}
		y, err := b.Generator.Generate(t.Context(), session.New(""))
		if err != nil {
			t.Fatal(err)
		}

		if x != y {
			t.Fatalf("same seed produced different answers: %q vs %q", x, y)
		}
	}
}

func TestGenerateOverwritesBinding(t *testing.T) {
	h := challengetest.New(t, 2)
	b := session.New("")

	first, err := h.Generator.Generate(t.Context(), b)
	if err != nil {
		t.Fatal(err)
	}
	firstID, _ := b.ID()

	second, err := h.Generator.Generate(t.Context(), b)
	if err != nil {
		t.Fatal(err)
	}
	secondID, _ := b.ID()

	if firstID == secondID {
		t.Fatal("second Generate reused the token id")
	}

	if first != second {
		ok, err := h.Verifier.Verify(t.Context(), b, first)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("the answer to a replaced challenge was accepted")
		}
		return
	}

	ok, err := h.Verifier.Verify(t.Context(), b, second)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("the current challenge was not accepted")
	}
}

func TestVerify(t *testing.T) {
	const ttl = 15 * time.Minute

	for _, tt := range []struct {
		name    string
		answer  string
		inputs  []string
		advance time.Duration
		want    []bool
	}{
		{
			name:   "correct answer once",
			answer: "7K9XZ",
			inputs: []string{"7K9XZ"},
			want:   []bool{true},
		},
		{
			name:   "lowercase input matches",
			answer: "7K9XZ",
			inputs: []string{"7k9xz", "7k9xz"},
			want:   []bool{true, false},
		},
		{
			name:   "wrong answer consumes the challenge",
			answer: "ABCDE",
			inputs: []string{"ABCDF", "ABCDE"},
			want:   []bool{false, false},
		},
		{
			name:   "empty input",
			answer: "ABCDE",
			inputs: []string{""},
			want:   []bool{false},
		},
		{
			name:   "longer input is not a prefix match",
			answer: "ABCDE",
			inputs: []string{"ABCDEF"},
			want:   []bool{false},
		},
		{
			name:    "expired challenge never verifies",
			answer:  "ABCDE",
			inputs:  []string{"ABCDE"},
			advance: ttl + time.Second,
			want:    []bool{false},
		},
		{
			name:    "challenge at the edge of its lifetime still verifies",
			answer:  "ABCDE",
			inputs:  []string{"ABCDE"},
			advance: ttl,
			want:    []bool{true},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := challengetest.New(t, 3)
			b := session.New("")

			h.Plant(t, b, "token-"+tt.answer, tt.answer, ttl)
			h.Clock.Advance(tt.advance)

			for i, input := range tt.inputs {
				got, err := h.Verifier.Verify(t.Context(), b, input)
				if err != nil {
					t.Fatal(err)
				}

				if got != tt.want[i] {
					t.Errorf("attempt %d with %q: got %v, want %v", i+1, input, got, tt.want[i])
				}
			}
		})
	}
}

func TestVerifyScenario(t *testing.T) {
	h := challengetest.New(t, 4)
	b := session.New("")

	h.Plant(t, b, "scenario", "7K9XZ", captcha.DefaultChallengeTTL)

	ok, err := h.Verifier.Verify(t.Context(), b, "7k9xz")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("wanted first attempt to pass")
	}

	if _, bound := b.ID(); bound {
		t.Error("binding should be cleared after the record was consumed")
	}

	if _, err := h.Store.Find(t.Context(), "scenario", false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record should be gone after verification, got: %v", err)
	}

	ok, err = h.Verifier.Verify(t.Context(), b, "7K9XZ")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("wanted second attempt to fail")
	}
}

func TestVerifyWithoutBinding(t *testing.T) {
	h := challengetest.New(t, 5)

	other := session.New("")
	h.Plant(t, other, "someone-else", "ABCDE", time.Minute)

	ok, err := h.Verifier.Verify(t.Context(), session.New(""), "ABCDE")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unbound session passed verification")
	}

	if _, err := h.Store.Find(t.Context(), "someone-else", true); err != nil {
		t.Errorf("unbound verification touched the store: %v", err)
	}
}

func TestVerifyLeavesStaleBinding(t *testing.T) {
	h := challengetest.New(t, 6)
	b := session.New("already-gone")

	ok, err := h.Verifier.Verify(t.Context(), b, "ABCDE")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("verification passed without a record")
	}

	if id, _ := b.ID(); id != "already-gone" {
		t.Errorf("stale binding was changed to %q", id)
	}
	if b.Dirty() {
		t.Error("stale binding should not be rewritten")
	}
}

func TestPurgeOnGenerate(t *testing.T) {
	h := challengetest.New(t, 7)

	old := session.New("")
	if _, err := h.Generator.Generate(t.Context(), old); err != nil {
		t.Fatal(err)
	}
	oldID, _ := old.ID()

	h.Clock.Advance(captcha.DefaultChallengeTTL + time.Minute)

	if _, err := h.Generator.Generate(t.Context(), session.New("")); err != nil {
		t.Fatal(err)
	}

	if _, err := h.Store.Find(t.Context(), oldID, false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired record survived the next generation: %v", err)
	}
}

func TestConcurrentVerify(t *testing.T) {
	h := challengetest.New(t, 8)
	h.Plant(t, session.New(""), "shared", "ABCDE", time.Minute)

	var (
		wg     sync.WaitGroup
		passes atomic.Int32
	)

	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ok, err := h.Verifier.Verify(t.Context(), session.New("shared"), "ABCDE")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				passes.Add(1)
			}
		}()
	}

	wg.Wait()

	if n := passes.Load(); n != 1 {
		t.Errorf("%d concurrent verifications passed, want exactly 1", n)
	}
}

// brokenStore fails every operation.
type brokenStore struct{}

var errBroken = errors.New("disk on fire")

func (brokenStore) Create(context.Context, store.Record) error { return errBroken }
func (brokenStore) Find(context.Context, string, bool) (store.Record, error) {
	return store.Record{}, errBroken
}
func (brokenStore) Claim(context.Context, string) (store.Record, error) {
	return store.Record{}, errBroken
}
func (brokenStore) Delete(context.Context, string) error { return errBroken }
func (brokenStore) PurgeExpired(context.Context) (int, error) { return 0, errBroken }

func TestStoreErrorsPropagate(t *testing.T) {
	gen, err := challenge.NewGenerator(challenge.GeneratorOptions{Store: brokenStore{}})
	if err != nil {
		t.Fatal(err)
	}

	b := session.New("")
	if _, err := gen.Generate(t.Context(), b); !errors.Is(err, challenge.ErrStore) || !errors.Is(err, errBroken) {
		t.Errorf("wanted wrapped store error from Generate, got: %v", err)
	}
	if _, bound := b.ID(); bound {
		t.Error("failed Generate bound a token")
	}

	ok, err := challenge.NewVerifier(brokenStore{}).Verify(t.Context(), session.New("x"), "ABCDE")
	if ok {
		t.Error("store failure produced a passing verification")
	}

	var cerr *challenge.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("wanted *challenge.Error, got: %v", err)
	}
	if cerr.PublicReason != "internal_server_error" {
		t.Errorf("wrong public reason: %q", cerr.PublicReason)
	}
}
