package handlers

import (
	"testing"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
	"github.com/rippleFCL/meshmon/pulsewave/update"
	"github.com/rippleFCL/meshmon/pulsewave/views"
)

// testStore is a minimal Store backed by a real data.Store/crypto.KeyMapping
// pair, standing in for the pulsewave.SharedStore composition root.
// It retains every signer it generates (not just the local one) so tests
// can publish signed state on behalf of a simulated peer.
type testStore struct {
	store    *data.Store
	mapping  *crypto.KeyMapping
	signer   *crypto.Signer
	signers  map[string]*crypto.Signer
	manager  *update.Manager
	clusters map[string]ClusterView
}

func newTestStore(t *testing.T, selfID string, peerIDs ...string) *testStore {
	t.Helper()
	self, err := crypto.GenerateSigner(selfID)
	if err != nil {
		t.Fatalf("GenerateSigner(%s): %v", selfID, err)
	}
	mapping := crypto.NewKeyMapping(self)
	store := data.NewStore()

	ts := &testStore{
		store:    store,
		mapping:  mapping,
		signer:   self,
		signers:  map[string]*crypto.Signer{selfID: self},
		manager:  update.NewManager(),
		clusters: make(map[string]ClusterView),
	}
	ts.addNode(t, self)

	for _, id := range peerIDs {
		peer, err := crypto.GenerateSigner(id)
		if err != nil {
			t.Fatalf("GenerateSigner(%s): %v", id, err)
		}
		mapping.AddVerifier(id, peer.Verifier())
		ts.signers[id] = peer
		ts.addNode(t, peer)
	}
	return ts
}

func (ts *testStore) addNode(t *testing.T, s *crypto.Signer) {
	t.Helper()
	nd := data.NewNodeData()
	consistency, err := data.NewConsistency(s)
	if err != nil {
		t.Fatalf("NewConsistency: %v", err)
	}
	nd.Consistency = consistency
	ts.store.Nodes[s.NodeID] = nd
}

func (ts *testStore) NodeIDs() []string {
	var ids []string
	for id := range ts.store.Nodes {
		if id != ts.signer.NodeID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (ts *testStore) CurrentNodeID() string { return ts.signer.NodeID }

func (ts *testStore) LocalConsistency() views.MutableConsistencyView {
	return ts.mutableConsistency(ts.signer.NodeID)
}

func (ts *testStore) mutableConsistency(nodeID string) views.MutableConsistencyView {
	nd := ts.store.Nodes[nodeID]
	return views.NewMutableConsistencyView("nodes."+nodeID+".consistency", nd.Consistency, ts.signers[nodeID], ts.manager)
}

func (ts *testStore) PeerConsistency(nodeID string) (views.ConsistencyView, bool) {
	nd, ok := ts.store.Nodes[nodeID]
	if !ok || nd.Consistency == nil {
		return views.ConsistencyView{}, false
	}
	return views.NewConsistencyView("nodes."+nodeID+".consistency", nd.Consistency), true
}

func (ts *testStore) Signer() *crypto.Signer { return ts.signer }

func (ts *testStore) ClusterNames() []string {
	var names []string
	for name := range ts.clusters {
		names = append(names, name)
	}
	return names
}

func (ts *testStore) Cluster(name string) (ClusterView, bool) {
	v, ok := ts.clusters[name]
	return v, ok
}

// joinCluster creates a consistent context named name for every listed
// node (each signing its own entry), then registers a local view over
// it under ts.clusters.
func joinCluster(t *testing.T, ts *testStore, name, secret string, nodeIDs ...string) {
	t.Helper()
	for _, id := range nodeIDs {
		nd := ts.store.Nodes[id]
		if _, ok := nd.Consistency.ConsistentContexts[name]; ok {
			continue
		}
		cc, err := data.NewConsistentContext(ts.signers[id], name, secret)
		if err != nil {
			t.Fatalf("NewConsistentContext: %v", err)
		}
		nd.Consistency.ConsistentContexts[name] = cc
	}

	view, err := views.NewConsistencyContextView[string](
		ts.store, name, "nodes."+ts.signer.NodeID+".consistency.consistent_contexts."+name,
		ts.mapping, ts.signer, ts.manager, secret,
	)
	if err != nil {
		t.Fatalf("NewConsistencyContextView: %v", err)
	}
	ts.clusters[name] = view
}

func setNodeStatus(t *testing.T, ts *testStore, nodeID string, status views.NodeStatus) {
	t.Helper()
	if err := ts.LocalConsistency().NodeStatusTable().Set(nodeID, views.NodeStatusEntry{Status: status}); err != nil {
		t.Fatalf("set node status: %v", err)
	}
}

// setPeerPulseTableEntry publishes, as peerID, a pulse table entry keyed
// by keyedTo (typically the local node), simulating peerID having just
// observed the keyedTo node's clock pulse.
func (ts *testStore) setPeerPulseTableEntry(peerID, keyedTo string, entry views.PulseTableEntry) error {
	return ts.mutableConsistency(peerID).PulseTable().Set(keyedTo, entry)
}

// setPeerClockPulse publishes, as peerID, a fresh self-reported clock
// pulse.
func (ts *testStore) setPeerClockPulse(peerID string, pulse views.ClockPulse) error {
	return ts.mutableConsistency(peerID).SetClockPulse(pulse)
}

func (ts *testStore) setLocalClockEntry(peerID string, entry views.ClockTableEntry) error {
	return ts.LocalConsistency().ClockTable().Set(peerID, entry)
}

func TestPulseTableHandlerRecordsPeerPulse(t *testing.T) {
	ts := newTestStore(t, "local", "peer")
	pulseDate := time.Now().UTC().Add(-500 * time.Millisecond)
	if err := ts.setPeerClockPulse("peer", views.ClockPulse{Date: pulseDate}); err != nil {
		t.Fatalf("setPeerClockPulse: %v", err)
	}

	h := NewPulseTableHandler()
	h.Bind(ts, ts.manager)
	h.HandleUpdate()

	entry, ok := ts.LocalConsistency().PulseTable().Get("peer")
	if !ok {
		t.Fatal("expected pulse table entry for peer")
	}
	if !entry.CurrentPulse.Equal(pulseDate) {
		t.Fatalf("expected recorded pulse to match peer's clock pulse date, got %v want %v", entry.CurrentPulse, pulseDate)
	}
}

func TestClockTableHandlerComputesDelta(t *testing.T) {
	ts := newTestStore(t, "local", "peer")

	now := time.Now().UTC()
	peerPulse := now.Add(-2 * time.Second)
	if err := ts.setPeerPulseTableEntry("peer", "local", views.PulseTableEntry{
		CurrentPulse: peerPulse,
		CurrentTime:  peerPulse.Add(100 * time.Millisecond),
	}); err != nil {
		t.Fatalf("setPeerPulseTableEntry: %v", err)
	}

	h := NewClockTableHandler(5)
	h.Bind(ts, ts.manager)
	h.HandleUpdate()

	entry, ok := ts.LocalConsistency().ClockTable().Get("peer")
	if !ok {
		t.Fatal("expected clock table entry for peer")
	}
	if entry.RTT <= 0 {
		t.Fatalf("expected positive rtt, got %v", entry.RTT)
	}
	if entry.PulseInterval != 5 {
		t.Fatalf("expected pulse interval 5, got %v", entry.PulseInterval)
	}
}

func TestNodeStatusHandlerMarksOffline(t *testing.T) {
	ts := newTestStore(t, "local", "peer")

	if err := ts.setLocalClockEntry("peer", views.ClockTableEntry{RTT: time.Second}); err != nil {
		t.Fatalf("setLocalClockEntry: %v", err)
	}
	if err := ts.setPeerPulseTableEntry("peer", "local", views.PulseTableEntry{
		CurrentPulse: time.Now().UTC().Add(-20 * time.Second),
	}); err != nil {
		t.Fatalf("setPeerPulseTableEntry: %v", err)
	}
	setNodeStatus(t, ts, "peer", views.NodeOnline)

	h := NewNodeStatusHandler(5)
	h.Bind(ts, ts.manager)
	h.HandleUpdate()

	entry, ok := ts.LocalConsistency().NodeStatusTable().Get("peer")
	if !ok {
		t.Fatal("expected node status entry for peer")
	}
	if entry.Status != views.NodeOffline {
		t.Fatalf("expected OFFLINE, got %v", entry.Status)
	}
}

func TestNodeStatusHandlerMarksOnline(t *testing.T) {
	ts := newTestStore(t, "local", "peer")

	if err := ts.setLocalClockEntry("peer", views.ClockTableEntry{RTT: time.Second}); err != nil {
		t.Fatalf("setLocalClockEntry: %v", err)
	}
	if err := ts.setPeerPulseTableEntry("peer", "local", views.PulseTableEntry{
		CurrentPulse: time.Now().UTC().Add(-2 * time.Second),
	}); err != nil {
		t.Fatalf("setPeerPulseTableEntry: %v", err)
	}

	h := NewNodeStatusHandler(5)
	h.Bind(ts, ts.manager)
	h.HandleUpdate()

	entry, ok := ts.LocalConsistency().NodeStatusTable().Get("peer")
	if !ok {
		t.Fatal("expected node status entry for peer")
	}
	if entry.Status != views.NodeOnline {
		t.Fatalf("expected ONLINE, got %v", entry.Status)
	}
}

func TestNodeStatusHandlerSkipsWithoutClockEntry(t *testing.T) {
	ts := newTestStore(t, "local", "peer")
	if err := ts.setPeerPulseTableEntry("peer", "local", views.PulseTableEntry{CurrentPulse: time.Now().UTC()}); err != nil {
		t.Fatalf("setPeerPulseTableEntry: %v", err)
	}

	h := NewNodeStatusHandler(5)
	h.Bind(ts, ts.manager)
	h.HandleUpdate()

	if _, ok := ts.LocalConsistency().NodeStatusTable().Get("peer"); ok {
		t.Fatal("expected no node status entry without a clock table entry")
	}
}

func TestDataUpdateHandlerTriggersWithoutPanicking(t *testing.T) {
	ts := newTestStore(t, "local")
	h := NewDataUpdateHandler()
	h.Bind(ts, ts.manager)
	h.HandleUpdate()
}

func TestLeaderElectionSingleNodeBecomesLeaderAfterStability(t *testing.T) {
	ts := newTestStore(t, "local")
	joinCluster(t, ts, "cluster-a", "top-secret", "local")

	h := NewLeaderElectionHandler()
	h.Bind(ts, ts.manager)

	h.HandleUpdate()
	status, ok := ts.clusters["cluster-a"].LeaderStatus()
	if !ok {
		t.Fatal("expected a leader status after first tick")
	}
	if status.Status == data.LeaderStatusLeader {
		t.Fatal("did not expect leadership before the stability gate is satisfied")
	}

	h.HandleUpdate()
	status, ok = ts.clusters["cluster-a"].LeaderStatus()
	if !ok || status.Status != data.LeaderStatusLeader {
		t.Fatalf("expected LEADER after two stable ticks, got %+v ok=%v", status, ok)
	}
	if status.NodeID != "local" {
		t.Fatalf("expected local node id as leader, got %q", status.NodeID)
	}
}

func TestLeaderElectionNotParticipatingWithoutQuorum(t *testing.T) {
	ts := newTestStore(t, "local", "peer-b", "peer-c")
	joinCluster(t, ts, "cluster-a", "top-secret", "local", "peer-b", "peer-c")

	h := NewLeaderElectionHandler()
	h.Bind(ts, ts.manager)
	h.HandleUpdate()

	status, ok := ts.clusters["cluster-a"].LeaderStatus()
	if !ok || status.Status != data.LeaderStatusNotParticipating {
		t.Fatalf("expected NOT_PARTICIPATING with only the local node online of three, got %+v ok=%v", status, ok)
	}
}
