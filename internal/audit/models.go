// Package audit implements the tamper-evident, append-only audit trail:
// hash-chained entries partitioned by tenant, an immutability-guarded store,
// chain verification, and the entry lifecycle state machine.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags what kind of compliance event an entry records.
type EventType string

const (
	EventCreated         EventType = "created"
	EventSignatureReq    EventType = "signature_requested"
	EventSigned          EventType = "signed"
	EventVerified        EventType = "verified"
	EventRejected        EventType = "rejected"
	EventArchived        EventType = "archived"
	EventStateChanged    EventType = "state_changed"
	EventViewed          EventType = "viewed"
	EventDownloaded      EventType = "downloaded"
	EventLocationUpdate  EventType = "location_update"
	EventCustodyTransfer EventType = "custody_transfer"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventSignatureReq, EventSigned, EventVerified,
		EventRejected, EventArchived, EventStateChanged, EventViewed,
		EventDownloaded, EventLocationUpdate, EventCustodyTransfer:
		return true
	}
	return false
}

// Severity classifies how urgent an entry is. Info and warning entries are
// auto-validated on append; error and critical entries stay in draft until
// an operator validates them, and validation escalates to compliance review.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Escalates reports whether validating an entry of this severity must
// notify a compliance reviewer.
func (s Severity) Escalates() bool {
	return s == SeverityError || s == SeverityCritical
}

// LifecycleState is the workflow state of an entry. Every hashed field is
// frozen at append time; only the lifecycle state and the fields assigned
// by a lifecycle transition may change afterwards.
type LifecycleState string

const (
	StateDraft     LifecycleState = "draft"
	StateValidated LifecycleState = "validated"
	StateFlagged   LifecycleState = "flagged"
	StateArchived  LifecycleState = "archived"
)

// SubjectRef is an opaque pointer to the business entity an event concerns
// (document, container, custody record). The audit subsystem never
// dereferences it.
type SubjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// SystemActor is the principal recorded when a caller supplies none.
const SystemActor = "system"

// AuditEntry is the sole persisted entity: one link in a tenant's chain.
//
// ContentHash covers {tenantId, eventType, actorId, ts, subject,
// description, metadata, prevHash}; see EntryEnvelope. PrevHash is the
// ContentHash of the previous entry for the same tenant, or GenesisHash
// for the first one.
type AuditEntry struct {
	ID          int64          `json:"id"`
	TenantID    string         `json:"tenantId"`
	SequenceRef string         `json:"sequenceRef,omitempty"`
	EventType   EventType      `json:"eventType"`
	Severity    Severity       `json:"severity"`
	ActorID     string         `json:"actorId"`
	Timestamp   time.Time      `json:"ts"`
	Subject     SubjectRef     `json:"subject"`
	Description string         `json:"description"`
	Details     string         `json:"details,omitempty"`
	BeforeState string         `json:"beforeState,omitempty"`
	AfterState  string         `json:"afterState,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ContentHash string         `json:"contentHash"`
	PrevHash    string         `json:"prevHash"`
	Signature   string         `json:"signature,omitempty"` // base64 Ed25519 over ContentHash bytes
	SignerID    string         `json:"signerId,omitempty"`
	State       LifecycleState `json:"state"`
}

// Clone returns a deep copy so callers can hand entries out without
// exposing store-internal state to mutation.
func (e *AuditEntry) Clone() *AuditEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// NewUUID returns a freshly-generated UUID string, used for notification
// and request identifiers.
func NewUUID() string {
	return uuid.New().String()
}
