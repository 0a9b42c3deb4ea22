// Package session carries a caller's outstanding challenge between requests.
//
// The binding is the only server-issued state the caller holds: the id of the
// one challenge record it may still answer. It travels in a signed JWT so the
// caller can't point it at someone else's record.
package session

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrNoKey        = errors.New("session: no signing key configured")
)

const claimChallenge = "challenge"

// Binding maps one session to the id of its outstanding challenge record.
// The zero value is an empty, unmodified binding.
type Binding struct {
	id    string
	dirty bool
}

// New returns a binding to id. An empty id means nothing is bound.
func New(id string) *Binding {
	return &Binding{id: id}
}

// ID returns the bound record id, if any.
func (b *Binding) ID() (string, bool) {
	return b.id, b.id != ""
}

// Set binds id, replacing any previous binding.
func (b *Binding) Set(id string) {
	b.id = id
	b.dirty = true
}

// Clear removes the binding.
func (b *Binding) Clear() {
	if b.id == "" {
		return
	}
	b.id = ""
	b.dirty = true
}

// Dirty reports whether the binding changed since it was loaded, meaning the
// cookie has to be rewritten.
func (b *Binding) Dirty() bool {
	return b.dirty
}

// Signer turns bindings into signed tokens and back. It signs with HS512 when
// a shared secret is configured and with EdDSA otherwise, the same choice the
// service makes for every cookie it sets.
type Signer struct {
	ed25519Priv ed25519.PrivateKey
	hs512Secret []byte
	ttl         time.Duration
	clk         clock.Clock
}

func NewSigner(ed25519Priv ed25519.PrivateKey, hs512Secret []byte, ttl time.Duration, clk clock.Clock) (*Signer, error) {
	if len(ed25519Priv) == 0 && len(hs512Secret) == 0 {
		return nil, ErrNoKey
	}

	if clk == nil {
		clk = clock.WallClock
	}

	return &Signer{
		ed25519Priv: ed25519Priv,
		hs512Secret: hs512Secret,
		ttl:         ttl,
		clk:         clk,
	}, nil
}

// Sign encodes b as a JWT that expires after the signer's TTL.
func (s *Signer) Sign(b *Binding) (string, error) {
	now := s.clk.Now()
	id, _ := b.ID()

	claims := jwt.MapClaims{
		claimChallenge: id,
		"iat":          now.Unix(),
		"nbf":          now.Add(-1 * time.Minute).Unix(),
		"exp":          now.Add(s.ttl).Unix(),
	}

	if len(s.hs512Secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.ed25519Priv)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.hs512Secret)
}

// Parse validates tokenString and returns the binding it carries. Any
// signature, algorithm, expiry or shape problem yields ErrInvalidToken.
func (s *Signer) Parse(tokenString string) (*Binding, error) {
	method := jwt.SigningMethodEdDSA.Alg()
	if len(s.hs512Secret) != 0 {
		method = jwt.SigningMethodHS512.Alg()
	}

	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, s.key,
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithValidMethods([]string{method}),
		jwt.WithTimeFunc(s.clk.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	id, ok := claims[claimChallenge].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s claim is missing or not a string", ErrInvalidToken, claimChallenge)
	}

	return New(id), nil
}

func (s *Signer) key(*jwt.Token) (any, error) {
	if len(s.hs512Secret) == 0 {
		return s.ed25519Priv.Public().(ed25519.PublicKey), nil
	}
	return s.hs512Secret, nil
}
