package challenge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/wpgarts/captcha"
	"github.com/wpgarts/captcha/lib/store"
)

type GeneratorOptions struct {
	Store store.Interface

	// Clock stamps expiry times. Defaults to the wall clock.
	Clock clock.Clock

	// Length is the number of answer characters, default
	// captcha.DefaultAnswerLength.
	Length int

	// Alphabet is the set answers are drawn from, default captcha.Alphabet.
	Alphabet string

	// TTL is how long a challenge stays answerable, default
	// captcha.DefaultChallengeTTL.
	TTL time.Duration

	// Rand drives answer selection. Answers only need to be unpredictable
	// to a solver looking at the image, so a seeded PRNG is fine for tests.
	// Defaults to the runtime's random source.
	Rand *rand.Rand
}

type Generator struct {
	store    store.Interface
	clk      clock.Clock
	length   int
	alphabet []rune
	ttl      time.Duration

	randLock sync.Mutex
	rand     *rand.Rand
}

func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("challenge: no store configured")
	}

	if opts.Length <= 0 {
		opts.Length = captcha.DefaultAnswerLength
	}

	if opts.Alphabet == "" {
		opts.Alphabet = captcha.Alphabet
	}

	if opts.TTL <= 0 {
		opts.TTL = captcha.DefaultChallengeTTL
	}

	return &Generator{
		store:    opts.Store,
		clk:      store.ClockOrWall(opts.Clock),
		length:   opts.Length,
		alphabet: []rune(opts.Alphabet),
		ttl:      opts.TTL,
		rand:     opts.Rand,
	}, nil
}

// Generate issues a fresh challenge and binds it to b, replacing whatever b
// held before. It returns the answer for rendering. Expired records are
// purged first; nothing else sweeps them.
func (g *Generator) Generate(ctx context.Context, b Binding) (string, error) {
	if _, err := g.store.PurgeExpired(ctx); err != nil {
		storeErrors.WithLabelValues("purge").Inc()
		return "", NewError("generate", "internal_server_error", fmt.Errorf("%w: purge: %w", ErrStore, err))
	}

	answer := g.answer()

	id, err := uuid.NewRandom()
	if err != nil {
		return "", NewError("generate", "internal_server_error", fmt.Errorf("%w: %w", ErrRandomID, err))
	}

	rec := store.Record{
		ID:        id.String(),
		Answer:    answer,
		ExpiresAt: store.ExpiresIn(g.clk.Now(), g.ttl),
	}

	if err := g.store.Create(ctx, rec); err != nil {
		storeErrors.WithLabelValues("create").Inc()
		return "", NewError("generate", "internal_server_error", fmt.Errorf("%w: create: %w", ErrStore, err))
	}

	b.Set(rec.ID)
	challengesIssued.Inc()

	return answer, nil
}

func (g *Generator) answer() string {
	var sb strings.Builder
	sb.Grow(g.length)

	g.randLock.Lock()
	defer g.randLock.Unlock()

	for range g.length {
		sb.WriteRune(g.alphabet[g.intN(len(g.alphabet))])
	}

	return sb.String()
}

func (g *Generator) intN(n int) int {
	if g.rand == nil {
		return rand.IntN(n)
	}
	return g.rand.IntN(n)
}
