package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func pgTestEntry() *AuditEntry {
	return &AuditEntry{
		TenantID:    "acme",
		EventType:   EventCustodyTransfer,
		Severity:    SeverityInfo,
		ActorID:     "u-1",
		Timestamp:   time.Date(2026, 5, 2, 9, 15, 0, 0, time.UTC),
		Subject:     SubjectRef{Type: "container", ID: "c-1"},
		Description: "container handed over",
		Metadata:    map[string]any{"route": "A7"},
		PrevHash:    GenesisHash,
		ContentHash: "aabbcc",
		State:       StateDraft,
	}
}

func entryRows(e *AuditEntry, id int64, metadata []byte) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "sequence_ref", "event_type", "severity", "actor_id", "ts",
		"subject_type", "subject_id", "description", "details", "before_state", "after_state",
		"metadata", "content_hash", "prev_hash", "signature", "signer_id", "state",
	}).AddRow(
		id, e.TenantID, e.SequenceRef, string(e.EventType), string(e.Severity), e.ActorID, e.Timestamp,
		e.Subject.Type, e.Subject.ID, e.Description, e.Details, e.BeforeState, e.AfterState,
		metadata, e.ContentHash, e.PrevHash, e.Signature, e.SignerID, string(e.State),
	)
}

func TestPGStoreAppendFirstEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	e := pgTestEntry()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT content_hash FROM audit_entries").
		WithArgs("acme").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	stored, err := store.Append(context.Background(), e)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if stored.ID != 7 {
		t.Fatalf("expected assigned id 7, got %d", stored.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreAppendConflictOnMovedHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	e := pgTestEntry() // prevHash = GENESIS, but the head has moved on

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT content_hash FROM audit_entries").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow("112233"))
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), e)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.HavePrev != "112233" {
		t.Fatalf("conflict should carry the current head, got %q", conflict.HavePrev)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreGetDecodesMetadataWithUseNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	e := pgTestEntry()
	mock.ExpectQuery("SELECT (.+) FROM audit_entries WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(entryRows(e, 7, []byte(`{"route":"A7"}`)))

	got, err := store.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != 7 || got.TenantID != "acme" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Metadata["route"] != "A7" {
		t.Fatalf("metadata not decoded: %+v", got.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	mock.ExpectQuery("SELECT (.+) FROM audit_entries WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreMetadataPreservesNumberForms(t *testing.T) {
	e := pgTestEntry()
	// Exponent and trailing-zero forms that jsonb storage would re-render.
	e.Metadata = map[string]any{"n": json.Number("1e2"), "w": json.Number("123.450")}
	hash, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash error: %v", err)
	}
	e.ContentHash = hash

	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		t.Fatalf("marshalMetadata error: %v", err)
	}
	if want := `{"n":1e2,"w":123.450}`; string(meta) != want {
		t.Fatalf("metadata must persist in canonical form: got %s want %s", meta, want)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	mock.ExpectQuery("SELECT (.+) FROM audit_entries WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(entryRows(e, 7, meta))

	got, err := store.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	recomputed, err := ComputeHash(got)
	if err != nil {
		t.Fatalf("ComputeHash error: %v", err)
	}
	if recomputed != hash {
		t.Fatalf("hash diverged after storage round-trip: stored %s recomputed %s", hash, recomputed)
	}
}

func TestPGStoreSetLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	e := pgTestEntry()
	e.State = StateValidated
	e.SequenceRef = "CUSTODY_TRANSFER-000007"

	mock.ExpectExec("UPDATE audit_entries SET state").
		WithArgs("validated", "CUSTODY_TRANSFER-000007", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM audit_entries WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(entryRows(e, 7, []byte(`{"route":"A7"}`)))

	got, err := store.SetLifecycle(context.Background(), 7, StateValidated, "CUSTODY_TRANSFER-000007")
	if err != nil {
		t.Fatalf("SetLifecycle error: %v", err)
	}
	if got.State != StateValidated || got.SequenceRef != "CUSTODY_TRANSFER-000007" {
		t.Fatalf("lifecycle not applied: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreImmutabilityGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	// Without maintenance mode both mutation primitives are rejected
	// before any SQL is issued.
	store := NewPGStore(db)
	e := pgTestEntry()
	e.ID = 7

	var imm *ImmutableRecordError
	if err := store.Overwrite(context.Background(), e); !errors.As(err, &imm) {
		t.Fatalf("expected ImmutableRecordError from Overwrite, got %v", err)
	}
	if err := store.Delete(context.Background(), 7); !errors.As(err, &imm) {
		t.Fatalf("expected ImmutableRecordError from Delete, got %v", err)
	}
	if err := store.Delete(context.Background()); err != nil {
		t.Fatalf("deleting empty selection should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL should have been issued: %v", err)
	}

	// With maintenance mode the delete goes through.
	maint := NewPGStore(db, WithMaintenanceMode())
	mock.ExpectExec("DELETE FROM audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := maint.Delete(context.Background(), 7); err != nil {
		t.Fatalf("Delete under maintenance mode: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
