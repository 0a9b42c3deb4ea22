package challenge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/wpgarts/captcha/lib/store"
)

type Verifier struct {
	store store.Interface
}

func NewVerifier(s store.Interface) *Verifier {
	return &Verifier{store: s}
}

// Verify reports whether input answers the challenge bound to b.
//
// The bound record is claimed before comparing, so every attempt consumes it
// and a second attempt at the same challenge always fails. On success the
// binding is cleared. If the record is already gone the stale binding is left
// alone; the next Generate overwrites it. Missing, expired, consumed and wrong
// all come back as false with a nil error. Only store failures are errors.
func (v *Verifier) Verify(ctx context.Context, b Binding, input string) (bool, error) {
	id, ok := b.ID()
	if !ok {
		challengesValidated.WithLabelValues(ResultNoBinding).Inc()
		return false, nil
	}

	rec, err := v.store.Claim(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		challengesValidated.WithLabelValues(ResultNotFound).Inc()
		return false, nil
	case err != nil:
		storeErrors.WithLabelValues("claim").Inc()
		return false, NewError("verify", "internal_server_error", fmt.Errorf("%w: claim: %w", ErrStore, err))
	}

	b.Clear()

	if !answersMatch(rec.Answer, input) {
		challengesValidated.WithLabelValues(ResultWrong).Inc()
		return false, nil
	}

	challengesValidated.WithLabelValues(ResultPass).Inc()
	return true, nil
}

func answersMatch(answer, input string) bool {
	return subtle.ConstantTimeCompare(
		[]byte(strings.ToUpper(answer)),
		[]byte(strings.ToUpper(input)),
	) == 1
}
