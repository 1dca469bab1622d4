package audit

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/recordvault/audittrail/internal/signer"
)

// ClockSkewTolerance is how far into the future an event timestamp may sit
// before Log rejects it. The grace window absorbs clock drift between the
// emitting collaborator and this service.
const ClockSkewTolerance = 5 * time.Minute

// DefaultLockTimeout bounds how long Log waits for the per-tenant append
// lock before failing with BusyError.
const DefaultLockTimeout = 5 * time.Second

// Recorder is the single entry point collaborators use to append events.
// It resolves defaults, validates input, serializes the chain extension per
// tenant, computes the content hash, persists the entry, and hands
// low-severity entries straight to the workflow for auto-validation.
type Recorder struct {
	store       Store
	workflow    *Workflow
	signer      signer.Signer // optional; nil disables signing
	locks       *tenantLocks
	lockTimeout time.Duration
	now         func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSigner makes the recorder sign each entry's content hash.
func WithSigner(s signer.Signer) RecorderOption {
	return func(r *Recorder) { r.signer = s }
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.lockTimeout = d }
}

// WithClock overrides the time source; tests use this to pin "now".
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder constructs a Recorder on top of a store and workflow.
func NewRecorder(store Store, workflow *Workflow, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:       store,
		workflow:    workflow,
		locks:       newTenantLocks(),
		lockTimeout: DefaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LogOption supplies the optional fields of an event.
type LogOption func(*AuditEntry)

// WithActor sets the acting principal; defaults to SystemActor.
func WithActor(actorID string) LogOption {
	return func(e *AuditEntry) { e.ActorID = actorID }
}

// WithTimestamp sets the event time; defaults to now.
func WithTimestamp(ts time.Time) LogOption {
	return func(e *AuditEntry) { e.Timestamp = ts.UTC() }
}

// WithSeverity sets the severity; defaults to info.
func WithSeverity(s Severity) LogOption {
	return func(e *AuditEntry) { e.Severity = s }
}

// WithSubject attaches the business entity the event concerns.
func WithSubject(subjectType, subjectID string) LogOption {
	return func(e *AuditEntry) { e.Subject = SubjectRef{Type: subjectType, ID: subjectID} }
}

// WithDetails attaches a free-form detail payload.
func WithDetails(details string) LogOption {
	return func(e *AuditEntry) { e.Details = details }
}

// WithStateChange records before/after snapshots for transition events.
func WithStateChange(before, after string) LogOption {
	return func(e *AuditEntry) {
		e.BeforeState = before
		e.AfterState = after
	}
}

// WithMetadata attaches structured side-channel data. Values must be
// strings, numbers, or booleans so the canonical encoding stays
// deterministic; anything else fails validation.
func WithMetadata(md map[string]any) LogOption {
	return func(e *AuditEntry) { e.Metadata = md }
}

// Log appends a new event to the tenant's chain and returns the persisted
// entry. Severity info/warning entries come back already validated; error
// and critical entries stay in draft for explicit review. If auto-validation
// fails after the append has committed, Log returns the persisted draft
// entry together with the error.
func (r *Recorder) Log(ctx context.Context, tenantID string, eventType EventType, description string, opts ...LogOption) (*AuditEntry, error) {
	e := &AuditEntry{
		TenantID:    tenantID,
		EventType:   eventType,
		Severity:    SeverityInfo,
		ActorID:     SystemActor,
		Description: description,
		State:       StateDraft,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	// TIMESTAMPTZ keeps microseconds; hashing finer precision than the store
	// retains would make every entry rehash differently after a round-trip.
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if err := r.validate(e); err != nil {
		return nil, err
	}

	if err := r.locks.acquire(ctx, tenantID, r.lockTimeout); err != nil {
		return nil, err
	}
	defer r.locks.release(tenantID)

	head, err := r.store.LastForTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch chain head: %w", err)
	}
	if head == nil {
		e.PrevHash = GenesisHash
	} else {
		e.PrevHash = head.ContentHash
	}

	hash, err := ComputeHash(e)
	if err != nil {
		return nil, err
	}
	e.ContentHash = hash

	if r.signer != nil {
		hashBytes, err := hex.DecodeString(e.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("decode content hash: %w", err)
		}
		sig, signerID, err := r.signer.Sign(hashBytes)
		if err != nil {
			return nil, fmt.Errorf("sign entry hash: %w", err)
		}
		e.Signature = base64.StdEncoding.EncodeToString(sig)
		e.SignerID = signerID
	}

	stored, err := r.store.Append(ctx, e)
	if err != nil {
		return nil, err
	}

	if !stored.Severity.Escalates() {
		validated, err := r.workflow.Validate(ctx, stored.ID)
		if err != nil {
			// The append has committed; hand the draft entry back with the
			// error so the caller knows the chain already contains it.
			return stored, fmt.Errorf("auto-validate entry %d: %w", stored.ID, err)
		}
		return validated, nil
	}
	return stored, nil
}

func (r *Recorder) validate(e *AuditEntry) error {
	if e.TenantID == "" {
		return &ValidationError{Field: "tenantId", Reason: "required"}
	}
	if !e.EventType.Valid() {
		return &ValidationError{Field: "eventType", Reason: fmt.Sprintf("unknown type %q", e.EventType)}
	}
	if !e.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", e.Severity)}
	}
	if e.Description == "" {
		return &ValidationError{Field: "description", Reason: "required"}
	}
	if e.Timestamp.After(r.now().Add(ClockSkewTolerance)) {
		return &ValidationError{Field: "ts", Reason: "timestamp is in the future beyond tolerance"}
	}
	for k, v := range e.Metadata {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, json.Number:
		default:
			return &ValidationError{Field: "metadata", Reason: fmt.Sprintf("key %q: values must be strings, numbers, or booleans", k)}
		}
	}
	return nil
}
