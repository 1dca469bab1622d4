package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and single-process dev
// deployments. It enforces the same append-only discipline as the Postgres
// store: ids increase monotonically across all tenants, chain heads are
// checked on append, and the mutation primitives are rejected unless the
// store was built with maintenance mode.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	byID        map[int64]*AuditEntry
	byTenant    map[string][]int64
	maintenance bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		nextID:      1,
		byID:        map[int64]*AuditEntry{},
		byTenant:    map[string][]int64{},
		maintenance: o.maintenance,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Append implements Store.Append.
func (m *MemoryStore) Append(ctx context.Context, e *AuditEntry) (*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := m.headLocked(e.TenantID)
	switch {
	case head == nil:
		if e.PrevHash != GenesisHash {
			return nil, &ConflictError{TenantID: e.TenantID, WantPrev: e.PrevHash, HavePrev: GenesisHash}
		}
	case head.ContentHash != e.PrevHash:
		return nil, &ConflictError{TenantID: e.TenantID, WantPrev: e.PrevHash, HavePrev: head.ContentHash}
	}

	stored := e.Clone()
	stored.ID = m.nextID
	m.nextID++
	m.byID[stored.ID] = stored
	m.byTenant[stored.TenantID] = append(m.byTenant[stored.TenantID], stored.ID)
	return stored.Clone(), nil
}

func (m *MemoryStore) headLocked(tenantID string) *AuditEntry {
	ids := m.byTenant[tenantID]
	if len(ids) == 0 {
		return nil
	}
	return m.byID[ids[len(ids)-1]]
}

// LastForTenant implements Store.LastForTenant.
func (m *MemoryStore) LastForTenant(ctx context.Context, tenantID string) (*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.headLocked(tenantID).Clone(), nil
}

// Get implements Store.Get.
func (m *MemoryStore) Get(ctx context.Context, id int64) (*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// ListForTenant implements Store.ListForTenant.
func (m *MemoryStore) ListForTenant(ctx context.Context, tenantID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byTenant[tenantID]
	out := make([]*AuditEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byID[id].Clone())
	}
	return out, nil
}

// SetLifecycle implements Store.SetLifecycle.
func (m *MemoryStore) SetLifecycle(ctx context.Context, id int64, state LifecycleState, seqRef string) (*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.State = state
	if seqRef != "" {
		e.SequenceRef = seqRef
	}
	return e.Clone(), nil
}

// Overwrite replaces the stored entry with the same id. It exists for the
// maintenance bypass only and fails with ImmutableRecordError on a store
// built without maintenance mode. The bypass is intentionally not audited
// by this subsystem; treat it as an operational risk surface.
func (m *MemoryStore) Overwrite(ctx context.Context, e *AuditEntry) error {
	if !m.maintenance {
		return &ImmutableRecordError{ID: e.ID, Op: "update"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[e.ID]; !ok {
		return ErrNotFound
	}
	m.byID[e.ID] = e.Clone()
	return nil
}

// Delete removes entries by id. Deleting an empty selection is a silent
// no-op regardless of mode; deleting anything else requires maintenance
// mode.
func (m *MemoryStore) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if !m.maintenance {
		return &ImmutableRecordError{ID: ids[0], Op: "delete"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.byID[id]
		if !ok {
			continue
		}
		delete(m.byID, id)
		tenant := m.byTenant[e.TenantID]
		for i, tid := range tenant {
			if tid == id {
				m.byTenant[e.TenantID] = append(tenant[:i], tenant[i+1:]...)
				break
			}
		}
	}
	return nil
}
