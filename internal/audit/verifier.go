package audit

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/recordvault/audittrail/internal/keys"
)

// Verifier walks tenant chains and reports every integrity violation it
// finds. It only reads; it may run concurrently with appends, which it
// simply will not observe if they land after its listing.
type Verifier struct {
	store Store
	// registry, when set, enables signature verification against the
	// registered signer public keys.
	registry *keys.Registry
}

// NewVerifier constructs a Verifier. registry may be nil to skip signature
// checks.
func NewVerifier(store Store, registry *keys.Registry) *Verifier {
	return &Verifier{store: store, registry: registry}
}

// VerifyTenant walks the tenant's entries in id order and checks, for each:
//
//   - linkage: entry 0 carries the genesis sentinel; entry n>0 carries its
//     predecessor's contentHash as prevHash
//   - integrity: the hash recomputed from stored fields matches the stored
//     contentHash
//   - signature (when a registry is configured): the stored signature
//     verifies against the signer's registered public key
//
// The returned slice is empty iff the whole chain is internally consistent.
// The error return covers store access failures only, never integrity
// findings.
func (v *Verifier) VerifyTenant(ctx context.Context, tenantID string) ([]VerificationError, error) {
	entries, err := v.store.ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list entries for tenant %s: %w", tenantID, err)
	}

	findings := []VerificationError{}
	for i, e := range entries {
		if i == 0 {
			if e.PrevHash != GenesisHash {
				findings = append(findings, &InvalidGenesisError{ID: e.ID, PrevHash: e.PrevHash})
			}
		} else if prev := entries[i-1]; e.PrevHash != prev.ContentHash {
			findings = append(findings, &BrokenLinkError{ID: e.ID, PrevHash: e.PrevHash, WantHash: prev.ContentHash})
		}

		computed, err := ComputeHash(e)
		if err != nil {
			return findings, fmt.Errorf("recompute hash for entry %d: %w", e.ID, err)
		}
		if computed != e.ContentHash {
			findings = append(findings, &TamperedEntryError{ID: e.ID, Stored: e.ContentHash, Computed: computed})
		}

		if v.registry != nil && e.Signature != "" {
			if f := v.verifySignature(e); f != nil {
				findings = append(findings, f)
			}
		}
	}
	return findings, nil
}

func (v *Verifier) verifySignature(e *AuditEntry) VerificationError {
	history := v.registry.KeysForSigner(e.SignerID)
	if len(history) == 0 {
		return &SignatureError{ID: e.ID, SignerID: e.SignerID, Reason: "unknown signer"}
	}
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return &SignatureError{ID: e.ID, SignerID: e.SignerID, Reason: "invalid signature encoding"}
	}
	hashBytes, err := hex.DecodeString(e.ContentHash)
	if err != nil {
		return &SignatureError{ID: e.ID, SignerID: e.SignerID, Reason: "invalid content hash encoding"}
	}
	// Entries signed before a key rotation must stay verifiable, so every
	// key the signer has published is acceptable.
	for _, ki := range history {
		pub, err := base64.StdEncoding.DecodeString(ki.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(pub), hashBytes, sig) {
			return nil
		}
	}
	return &SignatureError{ID: e.ID, SignerID: e.SignerID, Reason: "no registered key verifies the signature"}
}
