package challenge

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrStore    = errors.New("challenge: store failure")
	ErrRandomID = errors.New("challenge: can't generate token id")
)

// NewError wraps an infrastructure failure. PublicReason is a localization
// key that is safe to show the caller; PrivateReason is only logged.
func NewError(verb, publicReason string, privateReason error) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
		StatusCode:    http.StatusInternalServerError,
	}
}

type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: can't %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}
