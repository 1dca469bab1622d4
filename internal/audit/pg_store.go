package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/recordvault/audittrail/internal/canonical"
)

// PGStore persists audit entries into Postgres. Append runs in a
// transaction that locks the tenant's head row, so the chain-head check is
// serializable at the database even if multiple service instances share
// the table.
type PGStore struct {
	db          *sql.DB
	maintenance bool
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB, opts ...StoreOption) *PGStore {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &PGStore{db: db, maintenance: o.maintenance}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const entryColumns = `id, tenant_id, sequence_ref, event_type, severity, actor_id, ts,
	subject_type, subject_id, description, details, before_state, after_state,
	metadata, content_hash, prev_hash, signature, signer_id, state`

// Append implements Store.Append.
func (p *PGStore) Append(ctx context.Context, e *AuditEntry) (*AuditEntry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the tenant's head row for the duration of the transaction.
	var head sql.NullString
	q := `SELECT content_hash FROM audit_entries WHERE tenant_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, q, e.TenantID).Scan(&head); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("fetch chain head: %w", err)
	}
	want := GenesisHash
	if head.Valid {
		want = head.String
	}
	if e.PrevHash != want {
		return nil, &ConflictError{TenantID: e.TenantID, WantPrev: e.PrevHash, HavePrev: want}
	}

	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}

	ins := `
		INSERT INTO audit_entries
		  (tenant_id, sequence_ref, event_type, severity, actor_id, ts,
		   subject_type, subject_id, description, details, before_state, after_state,
		   metadata, content_hash, prev_hash, signature, signer_id, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id
	`
	var id int64
	err = tx.QueryRowContext(ctx, ins,
		e.TenantID,
		e.SequenceRef,
		string(e.EventType),
		string(e.Severity),
		e.ActorID,
		e.Timestamp.UTC(),
		e.Subject.Type,
		e.Subject.ID,
		e.Description,
		e.Details,
		e.BeforeState,
		e.AfterState,
		metadataJSON,
		e.ContentHash,
		e.PrevHash,
		e.Signature,
		e.SignerID,
		string(e.State),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	stored := e.Clone()
	stored.ID = id
	return stored, nil
}

// LastForTenant implements Store.LastForTenant.
func (p *PGStore) LastForTenant(ctx context.Context, tenantID string) (*AuditEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM audit_entries WHERE tenant_id = $1 ORDER BY id DESC LIMIT 1`
	e, err := scanEntry(p.db.QueryRowContext(ctx, q, tenantID))
	if err == ErrNotFound {
		return nil, nil
	}
	return e, err
}

// Get implements Store.Get.
func (p *PGStore) Get(ctx context.Context, id int64) (*AuditEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM audit_entries WHERE id = $1`
	return scanEntry(p.db.QueryRowContext(ctx, q, id))
}

// ListForTenant implements Store.ListForTenant.
func (p *PGStore) ListForTenant(ctx context.Context, tenantID string) ([]*AuditEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM audit_entries WHERE tenant_id = $1 ORDER BY id ASC`
	rows, err := p.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// SetLifecycle implements Store.SetLifecycle.
func (p *PGStore) SetLifecycle(ctx context.Context, id int64, state LifecycleState, seqRef string) (*AuditEntry, error) {
	q := `UPDATE audit_entries SET state = $1, sequence_ref = COALESCE(NULLIF($2, ''), sequence_ref) WHERE id = $3`
	res, err := p.db.ExecContext(ctx, q, string(state), seqRef, id)
	if err != nil {
		return nil, fmt.Errorf("update lifecycle: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return p.Get(ctx, id)
}

// Overwrite replaces the mutable representation of a stored entry. It is
// the maintenance bypass; a store built without maintenance mode rejects it
// with ImmutableRecordError.
func (p *PGStore) Overwrite(ctx context.Context, e *AuditEntry) error {
	if !p.maintenance {
		return &ImmutableRecordError{ID: e.ID, Op: "update"}
	}
	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	q := `
		UPDATE audit_entries SET
		  tenant_id=$1, sequence_ref=$2, event_type=$3, severity=$4, actor_id=$5, ts=$6,
		  subject_type=$7, subject_id=$8, description=$9, details=$10, before_state=$11,
		  after_state=$12, metadata=$13, content_hash=$14, prev_hash=$15, signature=$16,
		  signer_id=$17, state=$18
		WHERE id=$19
	`
	res, err := p.db.ExecContext(ctx, q,
		e.TenantID, e.SequenceRef, string(e.EventType), string(e.Severity), e.ActorID, e.Timestamp.UTC(),
		e.Subject.Type, e.Subject.ID, e.Description, e.Details, e.BeforeState,
		e.AfterState, metadataJSON, e.ContentHash, e.PrevHash, e.Signature,
		e.SignerID, string(e.State), e.ID,
	)
	if err != nil {
		return fmt.Errorf("overwrite audit entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes entries by id. An empty selection is a silent no-op;
// anything else requires maintenance mode.
func (p *PGStore) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if !p.maintenance {
		return &ImmutableRecordError{ID: ids[0], Op: "delete"}
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete audit entries: %w", err)
	}
	return nil
}

// marshalMetadata serializes metadata with the canonical encoder. The column
// is TEXT, not JSONB: jsonb re-renders numeric literals (1e2 comes back as
// 100), which would break hash recomputation on read. Storing the canonical
// bytes keeps the persisted representation byte-identical to what was hashed.
func marshalMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return []byte("null"), nil
	}
	b, err := canonical.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*AuditEntry, error) {
	var (
		e         AuditEntry
		eventType string
		severity  string
		state     string
		ts        time.Time
		metaBytes []byte
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.SequenceRef, &eventType, &severity, &e.ActorID, &ts,
		&e.Subject.Type, &e.Subject.ID, &e.Description, &e.Details, &e.BeforeState, &e.AfterState,
		&metaBytes, &e.ContentHash, &e.PrevHash, &e.Signature, &e.SignerID, &state,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	e.EventType = EventType(eventType)
	e.Severity = Severity(severity)
	e.State = LifecycleState(state)
	e.Timestamp = ts.UTC()

	if len(metaBytes) > 0 && string(metaBytes) != "null" {
		// Decode with UseNumber so numeric metadata keeps its textual form
		// and the recomputed hash matches what was hashed at append time.
		dec := json.NewDecoder(bytes.NewReader(metaBytes))
		dec.UseNumber()
		var md map[string]any
		if err := dec.Decode(&md); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		e.Metadata = md
	}
	return &e, nil
}
