// Package challenge issues and checks single-use captcha challenges.
//
// A Generator draws a random answer, stores it as a time-limited record and
// binds the record id into the caller's session. A Verifier later claims that
// record, consuming it whether or not the submitted answer matches.
package challenge

// Binding is the caller's session slot for its outstanding challenge. A
// session has at most one; binding a new id replaces the old one.
type Binding interface {
	ID() (string, bool)
	Set(id string)
	Clear()
}
