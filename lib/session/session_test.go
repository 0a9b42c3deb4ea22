package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func newSigners(t *testing.T) map[string]*Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	clk := testclock.NewClock(time.Now())

	ed, err := NewSigner(priv, nil, 30*time.Minute, clk)
	if err != nil {
		t.Fatal(err)
	}

	hs, err := NewSigner(nil, []byte("correct horse battery staple"), 30*time.Minute, clk)
	if err != nil {
		t.Fatal(err)
	}

	return map[string]*Signer{"ed25519": ed, "hs512": hs}
}

func TestBinding(t *testing.T) {
	var b Binding

	if _, ok := b.ID(); ok {
		t.Error("zero binding should be empty")
	}

	b.Clear()
	if b.Dirty() {
		t.Error("clearing an empty binding should not mark it dirty")
	}

	b.Set("first")
	b.Set("second")
	if id, ok := b.ID(); !ok || id != "second" {
		t.Errorf("wanted the second id to overwrite the first, got %q", id)
	}
	if !b.Dirty() {
		t.Error("Set should mark the binding dirty")
	}

	loaded := New("abc")
	if loaded.Dirty() {
		t.Error("a freshly loaded binding should not be dirty")
	}
	loaded.Clear()
	if _, ok := loaded.ID(); ok || !loaded.Dirty() {
		t.Error("Clear should empty the binding and mark it dirty")
	}
}

func TestSignParse(t *testing.T) {
	for name, s := range newSigners(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "3f1e2d4c-5b6a-4789-8abc-def012345678"} {
				tok, err := s.Sign(New(id))
				if err != nil {
					t.Fatal(err)
				}

				b, err := s.Parse(tok)
				if err != nil {
					t.Fatal(err)
				}

				if got, _ := b.ID(); got != id {
					t.Errorf("round trip changed id: want %q, got %q", id, got)
				}
				if b.Dirty() {
					t.Error("parsed binding should not be dirty")
				}
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	signers := newSigners(t)
	ed, hs := signers["ed25519"], signers["hs512"]

	edTok, err := ed.Sign(New("abc"))
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name  string
		s     *Signer
		token string
	}{
		{name: "garbage", s: ed, token: "not-a-jwt"},
		{name: "wrong algorithm", s: hs, token: edTok},
		{name: "tampered payload", s: ed, token: tamper(edTok)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.s.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("wanted ErrInvalidToken, got: %v", err)
			}
		})
	}
}

func TestParseExpired(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	clk := testclock.NewClock(time.Now())
	s, err := NewSigner(priv, nil, time.Minute, clk)
	if err != nil {
		t.Fatal(err)
	}

	tok, err := s.Sign(New("abc"))
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Minute)

	if _, err := s.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wanted expired token to be rejected, got: %v", err)
	}
}

func TestNewSignerNeedsKey(t *testing.T) {
	if _, err := NewSigner(nil, nil, time.Minute, nil); !errors.Is(err, ErrNoKey) {
		t.Errorf("wanted ErrNoKey, got: %v", err)
	}
}

// tamper flips one character of the payload segment.
func tamper(tok string) string {
	parts := strings.Split(tok, ".")
	payload := []byte(parts[1])
	if payload[0] == 'e' {
		payload[0] = 'f'
	} else {
		payload[0] = 'e'
	}
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}
