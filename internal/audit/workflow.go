package audit

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Workflow drives entry lifecycle transitions:
//
//	draft -> validated -> archived
//	draft/validated -> flagged -> validated (explicit review only)
//
// archived is terminal, and validation is a one-way commitment: there is no
// path back to draft. Transitions touch only the lifecycle state and the
// sequence reference; no hashed field ever changes.
type Workflow struct {
	store    Store
	notifier Notifier
	archiver Archiver
}

// NewWorkflow constructs a Workflow. A nil notifier disables notifications;
// a nil archiver disables archival export.
func NewWorkflow(store Store, notifier Notifier, archiver Archiver) *Workflow {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Workflow{store: store, notifier: notifier, archiver: archiver}
}

// Validate moves a draft entry to validated and assigns its sequence
// reference. Validating an error/critical entry escalates to a compliance
// reviewer.
func (w *Workflow) Validate(ctx context.Context, id int64) (*AuditEntry, error) {
	e, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateDraft {
		return nil, &InvalidTransitionError{ID: id, From: e.State, To: StateValidated}
	}

	updated, err := w.store.SetLifecycle(ctx, id, StateValidated, sequenceRef(e))
	if err != nil {
		return nil, fmt.Errorf("persist validation: %w", err)
	}

	if updated.Severity.Escalates() {
		if err := w.notifier.Notify(ctx, NotifyEscalation, updated); err != nil {
			// Notification transport failures must not roll back a committed
			// transition; surface them in the log for the operator.
			log.Printf("[audit.workflow] escalation notify for entry %d failed: %v", id, err)
		}
	}
	return updated, nil
}

// FlagForReview marks a non-terminal entry for compliance review and
// notifies reviewers.
func (w *Workflow) FlagForReview(ctx context.Context, id int64) (*AuditEntry, error) {
	e, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State == StateArchived {
		return nil, &InvalidTransitionError{ID: id, From: e.State, To: StateFlagged}
	}

	updated, err := w.store.SetLifecycle(ctx, id, StateFlagged, "")
	if err != nil {
		return nil, fmt.Errorf("persist flag: %w", err)
	}
	if err := w.notifier.Notify(ctx, NotifyReview, updated); err != nil {
		log.Printf("[audit.workflow] review notify for entry %d failed: %v", id, err)
	}
	return updated, nil
}

// ResolveFlag returns a flagged entry to validated. This is the explicit
// review action; it is the only way out of flagged. Entries flagged while
// still in draft pick up their sequence reference here.
func (w *Workflow) ResolveFlag(ctx context.Context, id int64) (*AuditEntry, error) {
	e, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateFlagged {
		return nil, &InvalidTransitionError{ID: id, From: e.State, To: StateValidated}
	}
	seqRef := ""
	if e.SequenceRef == "" {
		seqRef = sequenceRef(e)
	}
	updated, err := w.store.SetLifecycle(ctx, id, StateValidated, seqRef)
	if err != nil {
		return nil, fmt.Errorf("persist flag resolution: %w", err)
	}
	return updated, nil
}

// Archive moves a validated or flagged entry to the terminal archived
// state.
func (w *Workflow) Archive(ctx context.Context, id int64) (*AuditEntry, error) {
	e, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateValidated && e.State != StateFlagged {
		return nil, &InvalidTransitionError{ID: id, From: e.State, To: StateArchived}
	}
	updated, err := w.store.SetLifecycle(ctx, id, StateArchived, "")
	if err != nil {
		return nil, fmt.Errorf("persist archive: %w", err)
	}

	if w.archiver != nil {
		key, err := w.archiver.ArchiveEntry(ctx, updated)
		if err != nil {
			// The transition is committed; archival export is retried out of
			// band by the operator, never rolled back.
			log.Printf("[audit.workflow] archive export for entry %d failed: %v", id, err)
		} else {
			log.Printf("[audit.workflow] entry %d exported to %s", id, key)
		}
	}
	return updated, nil
}

// sequenceRef derives the human-readable reference assigned at validation,
// e.g. "CUSTODY_TRANSFER-000042". The id component makes it unique without
// a separate counter.
func sequenceRef(e *AuditEntry) string {
	return fmt.Sprintf("%s-%06d", strings.ToUpper(string(e.EventType)), e.ID)
}
