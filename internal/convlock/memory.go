package convlock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker keeps leases in a mutex-protected map. The check-and-set runs
// under the mutex, so it stays correct under real parallelism.
type MemoryLocker struct {
	mu      sync.Mutex
	leases  map[string]Lease
	maxHold time.Duration
	now     func() time.Time
}

// NewMemoryLocker builds an in-process locker.
func NewMemoryLocker(maxHold time.Duration) *MemoryLocker {
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &MemoryLocker{
		leases:  make(map[string]Lease),
		maxHold: maxHold,
		now:     time.Now,
	}
}

// TryAcquire grants the lease when free or stale.
func (l *MemoryLocker) TryAcquire(_ context.Context, conversationID, holder string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.leases[conversationID]
	if ok && now.Sub(lease.AcquiredAt) < l.maxHold {
		return false, nil
	}
	l.leases[conversationID] = Lease{Holder: holder, AcquiredAt: now}
	return true, nil
}

// Release drops the lease when holder still owns it.
func (l *MemoryLocker) Release(_ context.Context, conversationID, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.leases[conversationID]
	if !ok || lease.Holder != holder {
		return nil
	}
	delete(l.leases, conversationID)
	return nil
}

// SetClock overrides the time source. Tests only.
func (l *MemoryLocker) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
