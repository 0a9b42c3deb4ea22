package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the store implementation cannot find a
	// live record for a given id.
	ErrNotFound = errors.New("store: record not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")

	// ErrDuplicateID is returned by Create when a record with the same id
	// already exists.
	ErrDuplicateID = errors.New("store: duplicate record id")
)

// Interface defines the calls used to persist challenge records in a local or
// remote datastore. This can be implemented with an in-memory, on-disk, or
// in-database storage backend.
//
// Implementations must be safe for concurrent use.
type Interface interface {
	// Create persists a new record.
	Create(ctx context.Context, rec Record) error

	// Find returns the record with the given id. When notExpiredOnly is set,
	// records whose expiry has passed are reported as ErrNotFound.
	Find(ctx context.Context, id string, notExpiredOnly bool) (Record, error)

	// Claim atomically deletes a non-expired record and returns it. Given
	// any number of concurrent claims for the same id, exactly one of them
	// observes the record; the others get ErrNotFound.
	Claim(ctx context.Context, id string) (Record, error)

	// Delete removes a record by id regardless of its expiry.
	Delete(ctx context.Context, id string) error

	// PurgeExpired deletes every record whose expiry is set and strictly
	// before the current time. It returns how many records were removed.
	PurgeExpired(ctx context.Context) (int, error)
}
