package audit

import (
	"context"
	"sync"
	"time"
)

// tenantLocks serializes the read-head/compute-hash/append critical section
// per tenant. Appends for different tenants proceed in parallel; two
// appends for the same tenant never compute prevHash from the same head.
//
// Each tenant maps to a one-slot channel used as a mutex so acquisition can
// be bounded by a timeout instead of blocking forever.
type tenantLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{slots: map[string]chan struct{}{}}
}

func (l *tenantLocks) slot(tenantID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[tenantID]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[tenantID] = s
	}
	return s
}

// acquire takes the tenant's lock, failing with BusyError if it cannot be
// obtained within timeout, or with ctx.Err() on cancellation.
func (l *tenantLocks) acquire(ctx context.Context, tenantID string, timeout time.Duration) error {
	s := l.slot(tenantID)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s <- struct{}{}:
		return nil
	case <-t.C:
		return &BusyError{TenantID: tenantID}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *tenantLocks) release(tenantID string) {
	<-l.slot(tenantID)
}
