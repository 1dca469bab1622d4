// Package keys tracks the signing keys that countersign audit entries. A
// signer rotates keys over its lifetime, and entries signed before a
// rotation must keep verifying afterwards, so the registry keeps the full
// key history per signer rather than only the current key.
package keys

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// KeyInfo is the published metadata for one key of a signer.
type KeyInfo struct {
	SignerID  string     `json:"signerId"`
	Algorithm string     `json:"algorithm"` // e.g., "Ed25519"
	PublicKey string     `json:"publicKey"` // base64-encoded
	AddedAt   time.Time  `json:"addedAt"`
	RetiredAt *time.Time `json:"retiredAt,omitempty"`
}

// Active reports whether the key is the signer's current one.
func (k KeyInfo) Active() bool { return k.RetiredAt == nil }

// Registry holds per-signer key histories, newest key first. Safe for
// concurrent use.
type Registry struct {
	mtx     sync.RWMutex
	history map[string][]KeyInfo
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{history: make(map[string][]KeyInfo)}
}

// AddSigner publishes a key for the signer. When the signer already has an
// active key it is retired first, so AddSigner on an existing signer is a
// rotation.
func (r *Registry) AddSigner(signerID string, pubKey []byte, algorithm string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := time.Now().UTC()
	hist := r.history[signerID]
	if len(hist) > 0 && hist[0].RetiredAt == nil {
		hist[0].RetiredAt = &now
	}
	r.history[signerID] = append([]KeyInfo{{
		SignerID:  signerID,
		Algorithm: algorithm,
		PublicKey: base64.StdEncoding.EncodeToString(pubKey),
		AddedAt:   now,
	}}, hist...)
}

// ActiveKey returns the signer's current key.
func (r *Registry) ActiveKey(signerID string) (*KeyInfo, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	hist := r.history[signerID]
	if len(hist) == 0 {
		return nil, false
	}
	c := hist[0]
	return &c, true
}

// KeysForSigner returns every key the signer has published, newest first.
// Verification walks this list so that pre-rotation signatures stay valid.
func (r *Registry) KeysForSigner(signerID string) []KeyInfo {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return append([]KeyInfo(nil), r.history[signerID]...)
}

// ListSigners returns the current key of every registered signer, ordered by
// signer id.
func (r *Registry) ListSigners() []KeyInfo {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]KeyInfo, 0, len(r.history))
	for _, hist := range r.history {
		if len(hist) > 0 {
			out = append(out, hist[0])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignerID < out[j].SignerID })
	return out
}

// StatusHandler exposes the registry as JSON:
//
//	{ "signers": [ { ...KeyInfo, "rotations": n }, ... ] }
func (r *Registry) StatusHandler() http.HandlerFunc {
	type signerStatus struct {
		KeyInfo
		Rotations int `json:"rotations"`
	}
	return func(w http.ResponseWriter, req *http.Request) {
		r.mtx.RLock()
		statuses := make([]signerStatus, 0, len(r.history))
		for _, hist := range r.history {
			if len(hist) > 0 {
				statuses = append(statuses, signerStatus{KeyInfo: hist[0], Rotations: len(hist) - 1})
			}
		}
		r.mtx.RUnlock()
		sort.Slice(statuses, func(i, j int) bool { return statuses[i].SignerID < statuses[j].SignerID })

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"signers": statuses})
	}
}
