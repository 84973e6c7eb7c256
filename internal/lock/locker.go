// Package lock serializes reconciliation per user.
//
// Two reconciliations for the same user must not interleave their
// read-fold-write sequences, or the later write could be computed from a
// history that misses the earlier payment. Keys are "{region}:{userID}".
package lock

import (
	"context"
	"errors"

	"github.com/DukeRupert/tally/internal/domain"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context ended or the retries ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive access to a key.
type Locker interface {
	// Lock blocks until the key is held or ctx ends. The returned func
	// releases it and is safe to call more than once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Key builds the lock key for a user's entitlement.
func Key(region domain.Region, userID string) string {
	return string(region) + ":" + userID
}
