package crypto

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
)

// Verifier checks signatures claimed to originate from a single node
// identity. Verification failures are never fatal to the caller: the
// data-model layer logs and drops the offending element (spec §7).
type Verifier struct {
	NodeID string
	public ed25519.PublicKey
}

// NewVerifier builds a Verifier from a raw Ed25519 public key.
func NewVerifier(nodeID string, key ed25519.PublicKey) (*Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key size %d", len(key))
	}
	return &Verifier{NodeID: nodeID, public: key}, nil
}

// Verify reports whether sig is a valid Ed25519 signature of data under
// this verifier's public key. path is accepted purely for diagnostic
// logging (spec §4.1) and never enters the signature.
func (v *Verifier) Verify(data, sig []byte, path string) bool {
	ok := ed25519.Verify(v.public, data, sig)
	if !ok {
		slog.Warn("signature verification failed", "node_id", v.NodeID, "path", path)
	}
	return ok
}

// PublicKey returns the underlying public key, for persistence.
func (v *Verifier) PublicKey() ed25519.PublicKey {
	return v.public
}
