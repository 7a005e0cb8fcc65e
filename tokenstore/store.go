package tokenstore

import (
	"fmt"
	"sync"
	"time"
)

// Record is the unit of cached credential state.
//
// AccessToken and Expiry always travel together: a Record is only ever
// replaced as a whole, so a reader never sees a token paired with the
// expiry of another one.
type Record struct {
	// AccessToken is the opaque bearer string. Empty until the first successful refresh.
	AccessToken string

	// Expiry is the hard expiry of AccessToken.
	Expiry time.Time

	// RefreshCredential is the rotating secret used for the next exchange.
	// Empty means the client-credentials grant is used.
	RefreshCredential string

	// ObtainedAt records when AccessToken was stored.
	ObtainedAt time.Time

	// Lifetime is the validity the provider granted (expires_in). Zero when unknown.
	Lifetime time.Duration
}

// Empty reports whether the record holds no access token.
func (r Record) Empty() bool {
	return r.AccessToken == ""
}

// Usable reports whether the access token can still be handed out at now,
// i.e. it exists and has not passed its hard expiry.
func (r Record) Usable(now time.Time) bool {
	return !r.Empty() && now.Before(r.Expiry)
}

// StaleAt returns when the token enters the refresh margin. The margin is
// capped at half of Lifetime, so a token granted for less than the margin is
// not stale the moment it is stored.
func (r Record) StaleAt(margin time.Duration) time.Time {
	if r.Lifetime > 0 {
		margin = min(margin, r.Lifetime/2)
	}
	return r.Expiry.Add(-margin)
}

// Fresh reports whether the access token is usable and outside the refresh
// margin at now.
func (r Record) Fresh(now time.Time, margin time.Duration) bool {
	return !r.Empty() && now.Before(r.StaleAt(margin))
}

// String never prints secret material.
func (r Record) String() string {
	return fmt.Sprintf("tokenstore.Record{token:%s expiry:%s refresh:%s}",
		redact(r.AccessToken), r.Expiry.Format(time.RFC3339), redact(r.RefreshCredential))
}

// GoString mirrors String for %#v.
func (r Record) GoString() string {
	return r.String()
}

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}

// Store holds the current Record and exposes thread-safe reads and
// atomic whole-record replacement.
//
// Store does not serialize read-modify-write sequences; callers that derive
// the next Record from the current one must do so under their own gate.
type Store struct {
	mu     sync.RWMutex
	record Record
}

// New creates a store seeded with the given record. The seed usually only
// carries an initial refresh credential.
func New(seed Record) *Store {
	return &Store{record: seed}
}

// Read returns a consistent copy of the current record.
func (s *Store) Read() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Replace atomically swaps the entire record.
func (s *Store) Replace(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record
}
