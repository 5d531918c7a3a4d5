package dedup

import (
	"context"
	"sync"
	"time"
)

// Locker grants short-lived exclusive leases keyed by thread. A lease held
// across Verifying and Publishing keeps two cycles from replying to the same
// thread. Expired leases may be taken over by any owner.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

type lease struct {
	owner   string
	expires time.Time
}

// MemoryLocker is a Locker scoped to one process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (m *MemoryLocker) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[key]; ok && l.owner != owner && now.Before(l.expires) {
		return false, nil
	}
	m.leases[key] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Unlock(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.owner == owner {
		delete(m.leases, key)
	}
	return nil
}

// LockerFor returns the backend's own Locker when it has one, so leases are
// shared with every process using the same storage, else an in-process one.
func LockerFor(b Backend) Locker {
	if l, ok := b.(Locker); ok {
		return l
	}
	return NewMemoryLocker()
}

var _ Locker = (*MemoryLocker)(nil)
