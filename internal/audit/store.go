package audit

import "context"

// Store is the persistence abstraction for the audit chain. Appends are the
// only way new data enters a store; lifecycle transitions may touch the
// state and sequence-reference fields and nothing else. The lower-level
// mutation primitives (field overwrite, delete) live on the concrete store
// types and are rejected unless the store was constructed with maintenance
// mode enabled.
type Store interface {
	// Append assigns the next id and persists the entry atomically. The
	// entry arrives fully built: prevHash and contentHash already computed
	// by the recorder. Returns a ConflictError if the tenant's chain head
	// no longer matches the entry's prevHash.
	Append(ctx context.Context, e *AuditEntry) (*AuditEntry, error)

	// LastForTenant returns the highest-id entry for the tenant, or
	// (nil, nil) when the tenant's chain is empty.
	LastForTenant(ctx context.Context, tenantID string) (*AuditEntry, error)

	// Get retrieves an entry by id; ErrNotFound if absent.
	Get(ctx context.Context, id int64) (*AuditEntry, error)

	// ListForTenant returns all entries for the tenant ordered by id
	// ascending.
	ListForTenant(ctx context.Context, tenantID string) ([]*AuditEntry, error)

	// SetLifecycle updates the lifecycle state and, when seqRef is
	// non-empty, the sequence reference of an entry. It is the only write
	// path besides Append and touches no hashed field.
	SetLifecycle(ctx context.Context, id int64, state LifecycleState, seqRef string) (*AuditEntry, error)

	// Ping validates the store is reachable/healthy.
	Ping(ctx context.Context) error
}

// StoreOption configures a concrete store at construction time.
type StoreOption func(*storeOptions)

type storeOptions struct {
	maintenance bool
}

// WithMaintenanceMode enables the immutability bypass on a store. It exists
// for test harnesses and operator-driven remediation only; a store built
// without it has no way to mutate or delete history. The bypass is a
// constructor capability rather than a flag so production wiring cannot
// flip it at runtime.
func WithMaintenanceMode() StoreOption {
	return func(o *storeOptions) { o.maintenance = true }
}
