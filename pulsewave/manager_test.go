package pulsewave

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/rippleFCL/meshmon/config"
	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/transport"
)

func writePeerPublicKey(t *testing.T, dir, nodeID string) {
	t.Helper()
	peer, err := crypto.GenerateSigner(nodeID)
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(peer.Verifier().PublicKey())
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, nodeID+".pub"), pemBytes, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestStoreManagerLoadNetworkWiresNodeConfigSourceAndSinkFactory(t *testing.T) {
	root := t.TempDir()
	pubkeyDir := filepath.Join(root, "pubkeys")
	writePeerPublicKey(t, pubkeyDir, "peer")

	m := NewStoreManager(filepath.Join(root, "keys"))
	cfg := &config.NetworkConfig{
		NetworkID: "net-1",
		NodeID:    "local",
		Nodes: []config.NodeInfo{
			{NodeID: "local"},
			{NodeID: "peer", URL: "peer.example:9000"},
		},
	}
	if err := m.LoadNetwork(cfg, pubkeyDir); err != nil {
		t.Fatalf("LoadNetwork: %v", err)
	}

	store, ok := m.GetStore("net-1")
	if !ok {
		t.Fatal("expected GetStore to find the loaded network")
	}
	if store.CurrentNodeID() != "local" {
		t.Fatalf("expected local node id, got %q", store.CurrentNodeID())
	}

	if id, ok := m.LocalNodeID("net-1"); !ok || id != "local" {
		t.Fatalf("LocalNodeID: got %q ok=%v", id, ok)
	}
	if _, ok := m.Signer("net-1"); !ok {
		t.Fatal("expected Signer to resolve for a loaded network")
	}
	if _, ok := m.Verifier("net-1", "peer"); !ok {
		t.Fatal("expected Verifier to resolve the peer loaded from pubkeyDir")
	}
	if _, ok := m.LocalNodeID("net-missing"); ok {
		t.Fatal("expected LocalNodeID to fail for an unloaded network")
	}

	if m.UpdateSink("net-1") == nil {
		t.Fatal("expected UpdateSink to be wired")
	}
	if m.HeartbeatSink("net-1") == nil {
		t.Fatal("expected HeartbeatSink to be wired")
	}
	if m.UpdateSink("net-missing") != nil {
		t.Fatal("expected UpdateSink for an unloaded network to be nil")
	}
}

func TestStoreManagerReloadUpdatesConnections(t *testing.T) {
	root := t.TempDir()
	m := NewStoreManager(filepath.Join(root, "keys"))
	cfg := &config.NetworkConfig{
		NetworkID: "net-1",
		NodeID:    "local",
		Nodes:     []config.NodeInfo{{NodeID: "local"}},
	}
	if err := m.LoadNetwork(cfg, root); err != nil {
		t.Fatalf("LoadNetwork: %v", err)
	}

	m.Reload([]transport.PeerLink{{DestNodeID: "peer", NetworkID: "net-1", SrcNodeID: "local"}})

	if _, ok := m.Connections().GetConnection("peer", "net-1"); !ok {
		t.Fatal("expected Reload to add the peer connection")
	}
}

func TestStoreManagerLoadNetworkFailsForUnknownPeerKey(t *testing.T) {
	root := t.TempDir()
	m := NewStoreManager(filepath.Join(root, "keys"))
	cfg := &config.NetworkConfig{
		NetworkID: "net-1",
		NodeID:    "local",
		Nodes:     []config.NodeInfo{{NodeID: "local"}, {NodeID: "ghost"}},
	}
	if err := m.LoadNetwork(cfg, root); err == nil {
		t.Fatal("expected LoadNetwork to fail when a peer's public key is missing")
	}
}
