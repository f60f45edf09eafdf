package handlers

import (
	"context"
	"sort"
	"sync"

	"github.com/rippleFCL/meshmon/pulsewave/data"
	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/update"
	"github.com/rippleFCL/meshmon/pulsewave/views"
)

// electionStreak tracks how many consecutive ticks a given candidate has
// won a cluster's election, gating `leader_elected` on the candidate
// being stable for two ticks running rather than a single pulse-table
// race (resolved open question: stability gate of two consecutive ticks).
type electionStreak struct {
	candidate string
	ticks     int
}

// LeaderElectionHandler runs majority-quorum leader election over every
// named consistent context the local node participates in (spec §4.5).
// It is grounded on the NodeStatusHandler/LeaderElectionHandler behavior
// documented in the retrieval pack's
// tests/meshmon/pulsewave/update/test_node_and_leader_handlers.py, since
// the corresponding production source file was not present in the
// retrieved original_source tree.
type LeaderElectionHandler struct {
	store   Store
	manager *update.Manager
	metrics *metrics.Recorder

	mu      sync.Mutex
	streaks map[string]electionStreak
}

func NewLeaderElectionHandler() *LeaderElectionHandler {
	return &LeaderElectionHandler{streaks: make(map[string]electionStreak)}
}

// WithMetrics attaches a metrics.Recorder that observes leader
// election transitions. Passing nil (the default) disables metrics.
func (h *LeaderElectionHandler) WithMetrics(recorder *metrics.Recorder) *LeaderElectionHandler {
	h.metrics = recorder
	return h
}

func (h *LeaderElectionHandler) Bind(store Store, manager *update.Manager) {
	h.store = store
	h.manager = manager
}

func (h *LeaderElectionHandler) HandleUpdate() {
	for _, name := range h.store.ClusterNames() {
		cluster, ok := h.store.Cluster(name)
		if !ok {
			continue
		}
		h.processCluster(name, cluster)
	}
}

func (h *LeaderElectionHandler) processCluster(name string, cluster ClusterView) {
	allNodes := cluster.Nodes()
	if len(allNodes) == 0 {
		return
	}

	selfID := h.store.CurrentNodeID()
	online := cluster.OnlineNodes()
	effective := unionWithSelf(online, selfID)

	if !h.isConsistent(online, selfID) {
		h.setStatus(cluster, name, data.LeaderStatusWaitingForConsensus, "")
		h.clearStreak(name)
		return
	}

	required := len(allNodes)/2 + 1
	if len(effective) < required {
		h.setStatus(cluster, name, data.LeaderStatusNotParticipating, "")
		h.clearStreak(name)
		return
	}

	if leader, ok := h.existingLeader(cluster, effective); ok {
		h.clearStreak(name)
		if leader == selfID {
			return
		}
		h.setFollower(cluster, name, leader)
		return
	}

	candidate := lexMin(effective)
	ticks := h.bumpStreak(name, candidate)

	if ticks < 2 {
		return
	}
	if candidate == selfID {
		h.setStatus(cluster, name, data.LeaderStatusLeader, selfID)
		h.manager.TriggerEvent("leader_elected")
		return
	}
	h.setFollower(cluster, name, candidate)
}

// isConsistent reports whether every currently-online peer (excluding
// the local node itself) agrees, in its own published node status
// table, that the local node is ONLINE. The local node is trivially
// consistent with itself.
func (h *LeaderElectionHandler) isConsistent(online []string, selfID string) bool {
	for _, nodeID := range online {
		if nodeID == selfID {
			continue
		}
		peer, ok := h.store.PeerConsistency(nodeID)
		if !ok {
			return false
		}
		status, ok := peer.NodeStatusTable().Get(selfID)
		if !ok || status.Status != views.NodeOnline {
			return false
		}
	}
	return true
}

func (h *LeaderElectionHandler) existingLeader(cluster ClusterView, candidates []string) (string, bool) {
	for _, nodeID := range candidates {
		entry, ok := cluster.GetLeaderStatus(nodeID)
		if !ok {
			continue
		}
		if entry.Status == data.LeaderStatusLeader {
			return nodeID, true
		}
	}
	return "", false
}

func (h *LeaderElectionHandler) setStatus(cluster ClusterView, name string, status data.LeaderStatus, nodeID string) {
	current, ok := cluster.LeaderStatus()
	if ok && current.Status == status && current.NodeID == nodeID {
		return
	}
	if err := cluster.SetLeaderStatus(status, nodeID); err != nil {
		return
	}
	h.metrics.LeaderTransition(context.Background(), name, string(status))
	h.manager.TriggerEvent("instant_update")
}

func (h *LeaderElectionHandler) setFollower(cluster ClusterView, name string, leaderID string) {
	h.setStatus(cluster, name, data.LeaderStatusFollower, leaderID)
}

func (h *LeaderElectionHandler) bumpStreak(name, candidate string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.streaks[name]
	if s.candidate == candidate {
		s.ticks++
	} else {
		s = electionStreak{candidate: candidate, ticks: 1}
	}
	h.streaks[name] = s
	return s.ticks
}

func (h *LeaderElectionHandler) clearStreak(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streaks, name)
}

func (h *LeaderElectionHandler) Stop() {}

func (h *LeaderElectionHandler) Matcher() update.Matcher {
	return update.NewRegexPathMatcher([]string{
		`^nodes\.[\w-]+\.consistency\.node_status_table\..+$`,
		`^nodes\.[\w-]+\.consistency\.consistent_contexts\.[\w-]+\.leader$`,
	})
}

func unionWithSelf(nodes []string, self string) []string {
	seen := map[string]bool{self: true}
	out := []string{self}
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func lexMin(nodes []string) string {
	out := append([]string(nil), nodes...)
	sort.Strings(out)
	return out[0]
}
