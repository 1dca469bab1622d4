package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/recordvault/audittrail/internal/canonical"
)

// GenesisHash is the fixed sentinel stored as prevHash by the first entry
// of every tenant chain. It is deliberately not a valid hex digest so it
// can never collide with a real hash.
const GenesisHash = "GENESIS"

// HashBytes computes the SHA-256 digest bytes for input data.
func HashBytes(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// HashHex returns the hex-encoded SHA-256 of the input bytes.
func HashHex(b []byte) string {
	return hex.EncodeToString(HashBytes(b))
}

// EntryEnvelope builds the canonical hashing envelope for an entry. The
// field set and its serialization are load-bearing: every stored entry must
// rehash to its stored contentHash from exactly these fields, so adding or
// removing a field is a chain-breaking change.
func EntryEnvelope(e *AuditEntry) map[string]interface{} {
	var md interface{}
	if e.Metadata != nil {
		m := make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			m[k] = v
		}
		md = m
	}
	return map[string]interface{}{
		"tenantId":    e.TenantID,
		"eventType":   string(e.EventType),
		"actorId":     e.ActorID,
		"ts":          e.Timestamp.UTC().Format(time.RFC3339Nano),
		"subject":     map[string]interface{}{"type": e.Subject.Type, "id": e.Subject.ID},
		"description": e.Description,
		"metadata":    md,
		"prevHash":    e.PrevHash,
	}
}

// ComputeHash canonicalizes the entry envelope (which includes prevHash)
// and returns the hex SHA-256 over the canonical bytes.
func ComputeHash(e *AuditEntry) (string, error) {
	canon, err := canonical.Marshal(EntryEnvelope(e))
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	return HashHex(canon), nil
}
