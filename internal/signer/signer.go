// Package signer provides the signing abstraction used to countersign
// audit entry hashes. Signing is optional; the chain is tamper-evident
// without it, but a signature binds each entry to a key an auditor can
// check independently of the database.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// Signer signs audit entry hashes.
type Signer interface {
	// Sign signs the provided hash bytes and returns (signature, signerId, error).
	Sign(hash []byte) (sig []byte, signerID string, err error)

	// PublicKey returns the public key bytes for verification (nil if not supported).
	PublicKey() []byte
}

// LocalSigner is an in-process Ed25519 signer for development and testing.
// Production deployments should wire an external key service instead; a
// key held in process memory offers no protection if the host is
// compromised.
type LocalSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerID string
}

// NewLocalSigner creates a LocalSigner with a freshly generated Ed25519
// keypair. signerID is the logical identifier recorded on signed entries.
func NewLocalSigner(signerID string) *LocalSigner {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// Generation should not fail in normal environments; panic to surface early.
		panic(err)
	}
	return &LocalSigner{priv: priv, pub: pub, signerID: signerID}
}

// Sign implements Signer.Sign using Ed25519.
func (l *LocalSigner) Sign(hash []byte) ([]byte, string, error) {
	if l.priv == nil {
		return nil, "", errors.New("local signer: private key not initialized")
	}
	return ed25519.Sign(l.priv, hash), l.signerID, nil
}

// PublicKey returns the Ed25519 public key bytes.
func (l *LocalSigner) PublicKey() []byte {
	return l.pub
}
