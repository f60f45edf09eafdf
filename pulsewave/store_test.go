package pulsewave

import (
	"testing"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
)

func newTestSharedStore(t *testing.T, nodeID string, peerIDs ...string) *SharedStore {
	t.Helper()
	signer, err := crypto.GenerateSigner(nodeID)
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	mapping := crypto.NewKeyMapping(signer)
	for _, peerID := range peerIDs {
		peer, err := crypto.GenerateSigner(peerID)
		if err != nil {
			t.Fatalf("GenerateSigner(%s): %v", peerID, err)
		}
		mapping.AddVerifier(peerID, peer.Verifier())
	}
	s, err := NewSharedStore(mapping)
	if err != nil {
		t.Fatalf("NewSharedStore: %v", err)
	}
	return s
}

func TestNewSharedStoreSeedsLocalNode(t *testing.T) {
	s := newTestSharedStore(t, "local", "peer")

	if s.CurrentNodeID() != "local" {
		t.Fatalf("expected local node id, got %q", s.CurrentNodeID())
	}
	ids := s.NodeIDs()
	if len(ids) != 1 || ids[0] != "peer" {
		t.Fatalf("expected NodeIDs to report only peer, got %v", ids)
	}
	if _, ok := s.LocalConsistency().ClockTable().Get("anything"); ok {
		t.Fatal("expected an empty clock table on a fresh store")
	}
}

func TestSetValueThenGetValueRoundTrips(t *testing.T) {
	s := newTestSharedStore(t, "local")

	if err := SetValue(s, "greeting", "hello", data.Newer); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	got, ok := GetValue[string](s, "greeting", "")
	if !ok {
		t.Fatal("expected to read back the value just set")
	}
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestLocalContextSetThenGetContextFromPeerView(t *testing.T) {
	s := newTestSharedStore(t, "local")

	ctx, err := GetLocalContext[int](s, "counters")
	if err != nil {
		t.Fatalf("GetLocalContext: %v", err)
	}
	if err := ctx.Set("a", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}

	view, ok := GetContext[int](s, "counters", "local")
	if !ok {
		t.Fatal("expected to find the just-created context")
	}
	got, ok := view.Get("a")
	if !ok || got != 7 {
		t.Fatalf("expected 7, got %v ok=%v", got, ok)
	}
}

func TestJoinClusterRoundTripsValue(t *testing.T) {
	s := newTestSharedStore(t, "local")

	cluster, err := s.JoinCluster("cluster-a", "top-secret")
	if err != nil {
		t.Fatalf("JoinCluster: %v", err)
	}
	if err := SetClusterValue(cluster, "role", "primary"); err != nil {
		t.Fatalf("SetClusterValue: %v", err)
	}
	got, ok := GetClusterValue[string](cluster, "role")
	if !ok || got != "primary" {
		t.Fatalf("expected \"primary\", got %q ok=%v", got, ok)
	}

	names := s.ClusterNames()
	if len(names) != 1 || names[0] != "cluster-a" {
		t.Fatalf("expected ClusterNames to report cluster-a, got %v", names)
	}
	if _, ok := s.Cluster("cluster-a"); !ok {
		t.Fatal("expected Cluster to find the joined cluster")
	}
}

func TestApplyRemoteMergesPeerData(t *testing.T) {
	local := newTestSharedStore(t, "local", "peer")

	peerSigner, err := crypto.GenerateSigner("peer")
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	local.Mapping().AddVerifier("peer", peerSigner.Verifier())

	remote := data.NewStore()
	nd := data.NewNodeData()
	block, err := data.NewBlock(peerSigner, "remote-value", "k", data.Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	nd.Values["k"] = block
	remote.Nodes["peer"] = nd

	local.ApplyRemote(remote)

	got, ok := GetValue[string](local, "k", "peer")
	if !ok || got != "remote-value" {
		t.Fatalf("expected remote value to merge in, got %q ok=%v", got, ok)
	}
}

func TestRegisterHandlersDoesNotPanicOnEmptyStore(t *testing.T) {
	s := newTestSharedStore(t, "local")
	s.RegisterHandlers(5)
	s.Manager().TriggerUpdate([]string{"nodes.local.values.x"})
}
