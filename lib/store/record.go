package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a single outstanding challenge.
type Record struct {
	ID        string     `json:"id"`
	Answer    string     `json:"answer"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"` // nil means the record never expires
}

// Expired reports whether the record's expiry is set and before now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Live reports whether the record may still be matched at time now.
// Records expiring exactly at now are still live.
func (r Record) Live(now time.Time) bool {
	return !r.Expired(now)
}

// ExpiresIn returns a pointer to now+ttl, normalized to UTC.
func ExpiresIn(now time.Time, ttl time.Duration) *time.Time {
	t := now.Add(ttl).UTC()
	return &t
}

// Encode serializes a record for byte-oriented backends.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return rec, nil
}
