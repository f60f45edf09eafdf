package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyType = "PRIVATE KEY"
	publicKeyType  = "PUBLIC KEY"
	privateKeyMode = 0o600
	publicKeyMode  = 0o644
)

// PrivateKeyPath returns <dir>/<nodeID>.key (spec §6).
func PrivateKeyPath(dir, nodeID string) string {
	return filepath.Join(dir, nodeID+".key")
}

// PublicKeyPath returns <dir>/<nodeID>.pub (spec §6).
func PublicKeyPath(dir, nodeID string) string {
	return filepath.Join(dir, nodeID+".pub")
}

// LoadOrCreateSigner loads the Ed25519 signer for nodeID from dir,
// generating and persisting a fresh keypair if none exists yet. Signing
// keys are the only state this store persists across restarts (spec §1
// Non-goals: the replicated store itself is rebuilt from peers).
func LoadOrCreateSigner(dir, nodeID string) (*Signer, error) {
	keyPath := PrivateKeyPath(dir, nodeID)
	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		return decodePrivateKey(nodeID, data)
	case errors.Is(err, os.ErrNotExist):
		return createAndPersistSigner(dir, nodeID)
	default:
		return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
	}
}

func createAndPersistSigner(dir, nodeID string) (*Signer, error) {
	signer, err := GenerateSigner(nodeID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir %s: %w", dir, err)
	}
	if err := writePrivateKey(dir, nodeID, signer.PrivateKey()); err != nil {
		return nil, err
	}
	if err := writePublicKey(dir, nodeID, signer.Verifier().PublicKey()); err != nil {
		return nil, err
	}
	return signer, nil
}

func decodePrivateKey(nodeID string, data []byte) (*Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privateKeyType {
		return nil, fmt.Errorf("decode private key for %s: not a PEM PKCS#8 block", nodeID)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key for %s: %w", nodeID, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key for %s is not Ed25519", nodeID)
	}
	return NewSigner(nodeID, priv)
}

func writePrivateKey(dir, nodeID string, key ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal PKCS#8 private key for %s: %w", nodeID, err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: privateKeyType, Bytes: der})
	path := PrivateKeyPath(dir, nodeID)
	if err := os.WriteFile(path, pemBytes, privateKeyMode); err != nil {
		return fmt.Errorf("write private key %s: %w", path, err)
	}
	return nil
}

func writePublicKey(dir, nodeID string, key ed25519.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return fmt.Errorf("marshal SubjectPublicKeyInfo for %s: %w", nodeID, err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: publicKeyType, Bytes: der})
	path := PublicKeyPath(dir, nodeID)
	if err := os.WriteFile(path, pemBytes, publicKeyMode); err != nil {
		return fmt.Errorf("write public key %s: %w", path, err)
	}
	return nil
}

// LoadVerifier reads a peer's public key file from dir.
func LoadVerifier(dir, nodeID string) (*Verifier, error) {
	path := PublicKeyPath(dir, nodeID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicKeyType {
		return nil, fmt.Errorf("decode public key for %s: not a PEM SubjectPublicKeyInfo block", nodeID)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse SubjectPublicKeyInfo for %s: %w", nodeID, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key for %s is not Ed25519", nodeID)
	}
	return NewVerifier(nodeID, pub)
}
