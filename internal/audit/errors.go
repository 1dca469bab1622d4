package audit

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested audit entry cannot be located.
var ErrNotFound = errors.New("audit entry not found")

// ValidationError reports malformed input to Log: a future timestamp beyond
// the skew tolerance, malformed metadata, or a missing required field. The
// caller fixes the input; nothing is retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ImmutableRecordError reports an attempted mutation or deletion of a
// persisted entry outside maintenance mode. It is always surfaced, never
// swallowed: silently ignoring it would itself be a compliance gap.
type ImmutableRecordError struct {
	ID int64
	Op string
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("audit entry %d is immutable: %s rejected outside maintenance mode", e.ID, e.Op)
}

// InvalidTransitionError reports a disallowed lifecycle transition.
type InvalidTransitionError struct {
	ID   int64
	From LifecycleState
	To   LifecycleState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("audit entry %d: transition %s -> %s not permitted", e.ID, e.From, e.To)
}

// ConflictError reports that a tenant's chain head moved between the
// caller computing prevHash and the append reaching the store. Under the
// recorder's per-tenant lock this should not occur; a caller seeing it may
// retry with backoff.
type ConflictError struct {
	TenantID string
	WantPrev string
	HavePrev string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tenant %s: chain head moved (expected prev=%s, head=%s)", e.TenantID, e.WantPrev, e.HavePrev)
}

// BusyError reports that the per-tenant append lock could not be acquired
// within the configured timeout. Retryable; not a data-integrity problem.
type BusyError struct {
	TenantID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("tenant %s: append lock busy", e.TenantID)
}

// VerificationError is an integrity violation detected by the chain
// verifier. Findings are reported to the operator as a list, never
// auto-corrected.
type VerificationError interface {
	error
	EntryID() int64
}

// InvalidGenesisError: the first entry of a chain does not carry the
// genesis sentinel as its prevHash.
type InvalidGenesisError struct {
	ID       int64
	PrevHash string
}

func (e *InvalidGenesisError) Error() string {
	return fmt.Sprintf("entry %d: expected genesis sentinel, got prevHash=%q", e.ID, e.PrevHash)
}

func (e *InvalidGenesisError) EntryID() int64 { return e.ID }

// BrokenLinkError: an entry's prevHash does not equal its predecessor's
// contentHash.
type BrokenLinkError struct {
	ID       int64
	PrevHash string
	WantHash string
}

func (e *BrokenLinkError) Error() string {
	return fmt.Sprintf("entry %d: prevHash=%s does not match predecessor hash %s", e.ID, e.PrevHash, e.WantHash)
}

func (e *BrokenLinkError) EntryID() int64 { return e.ID }

// TamperedEntryError: recomputing an entry's hash from its stored fields
// does not reproduce the stored contentHash.
type TamperedEntryError struct {
	ID       int64
	Stored   string
	Computed string
}

func (e *TamperedEntryError) Error() string {
	return fmt.Sprintf("entry %d: stored hash %s does not match recomputed %s", e.ID, e.Stored, e.Computed)
}

func (e *TamperedEntryError) EntryID() int64 { return e.ID }

// SignatureError: an entry carries a signature that does not verify against
// the registered signer public key.
type SignatureError struct {
	ID       int64
	SignerID string
	Reason   string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("entry %d: signature by %s invalid: %s", e.ID, e.SignerID, e.Reason)
}

func (e *SignatureError) EntryID() int64 { return e.ID }
