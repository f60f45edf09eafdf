// Package crypto provides the Ed25519 signing primitives, key-file
// persistence, and the per-network key mapping (self signer plus
// per-peer verifiers) that the signed data model builds on.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Signer signs payloads on behalf of a single node identity.
type Signer struct {
	NodeID  string
	private ed25519.PrivateKey
}

// NewSigner builds a Signer from a raw Ed25519 private key.
func NewSigner(nodeID string, key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key size %d", len(key))
	}
	return &Signer{NodeID: nodeID, private: key}, nil
}

// GenerateSigner creates a fresh Ed25519 keypair for nodeID.
func GenerateSigner(nodeID string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Signer{NodeID: nodeID, private: priv}, nil
}

// Sign returns the Ed25519 signature over data.
func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.private, data)
}

// Verifier returns the Verifier matching this signer's public key.
func (s *Signer) Verifier() *Verifier {
	pub, ok := s.private.Public().(ed25519.PublicKey)
	if !ok {
		panic("crypto: ed25519 private key did not produce an ed25519 public key")
	}
	return &Verifier{NodeID: s.NodeID, public: pub}
}

// PrivateKey returns the underlying private key, for persistence.
func (s *Signer) PrivateKey() ed25519.PrivateKey {
	return s.private
}
