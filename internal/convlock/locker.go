// Package convlock serializes message submissions per conversation through
// short-lived leases. This is advisory serialization for duplicate
// suppression, not a transactional lock: persistence consistency still comes
// from the store.
package convlock

import (
	"context"
	"time"
)

// DefaultMaxHold is how long a lease stays valid before any new acquirer may
// steal it. It is the recovery path for a holder that crashed or hung
// without releasing.
const DefaultMaxHold = 5 * time.Second

// Lease records the current holder of a conversation.
type Lease struct {
	Holder     string
	AcquiredAt time.Time
}

// Locker grants at most one live lease per conversation at any instant.
type Locker interface {
	// TryAcquire grants the lease to holder when the conversation is free
	// or the current lease is stale. It never queues.
	TryAcquire(ctx context.Context, conversationID, holder string) (bool, error)
	// Release drops the lease when holder still owns it. Releasing a lease
	// held by someone else (or already released) is a no-op.
	Release(ctx context.Context, conversationID, holder string) error
}
