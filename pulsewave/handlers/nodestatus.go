package handlers

import (
	"log/slog"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/update"
	"github.com/rippleFCL/meshmon/pulsewave/views"
)

// nodeOnlineEpsilon scales a peer's measured round-trip time into the
// margin added on top of the configured pulse interval before a stale
// pulse is treated as the peer going offline. Resolves the node-online
// threshold as pulse_interval + rtt*epsilon, with epsilon=3: generous
// enough to absorb a couple of missed pulses from jitter alone without
// flapping a healthy peer offline.
const nodeOnlineEpsilon = 3

// NodeStatusHandler recomputes the local node's belief about which
// peers are online, based on the freshness of each peer's self-reported
// pulse age and the local node's measured RTT to that peer (spec §4.4).
type NodeStatusHandler struct {
	pulseInterval float64
	store         Store
	manager       *update.Manager
}

func NewNodeStatusHandler(pulseInterval float64) *NodeStatusHandler {
	return &NodeStatusHandler{pulseInterval: pulseInterval}
}

func (h *NodeStatusHandler) Bind(store Store, manager *update.Manager) {
	h.store = store
	h.manager = manager
}

func (h *NodeStatusHandler) HandleUpdate() {
	local := h.store.LocalConsistency()
	statusTable := local.NodeStatusTable()
	currentNodeID := h.store.CurrentNodeID()

	seen := make(map[string]bool)
	for _, nodeID := range h.store.NodeIDs() {
		seen[nodeID] = true
		status, ok := h.evaluate(nodeID, currentNodeID, local)
		if !ok {
			continue
		}
		current, hasCurrent := statusTable.Get(nodeID)
		if hasCurrent && current.Status == status {
			continue
		}
		if err := statusTable.Set(nodeID, views.NodeStatusEntry{Status: status}); err != nil {
			slog.Warn("failed to set node status entry", "node_id", nodeID, "err", err)
			continue
		}
		h.manager.TriggerEvent("update")
	}

	for _, nodeID := range statusTable.Keys() {
		if seen[nodeID] {
			continue
		}
		if err := statusTable.Delete(nodeID); err != nil {
			slog.Warn("failed to delete stale node status entry", "node_id", nodeID, "err", err)
			continue
		}
		h.manager.TriggerEvent("update")
	}
}

func (h *NodeStatusHandler) evaluate(nodeID, currentNodeID string, local views.MutableConsistencyView) (views.NodeStatus, bool) {
	peer, ok := h.store.PeerConsistency(nodeID)
	if !ok {
		return "", false
	}
	pulseEntry, hasPulse := peer.PulseTable().Get(currentNodeID)
	if !hasPulse {
		return views.NodeOffline, true
	}
	clockEntry, hasClock := local.ClockTable().Get(nodeID)
	if !hasClock {
		return "", false
	}

	threshold := time.Duration(h.pulseInterval*float64(time.Second)) + clockEntry.RTT*nodeOnlineEpsilon
	elapsed := time.Now().UTC().Sub(pulseEntry.CurrentPulse)
	if elapsed > threshold {
		return views.NodeOffline, true
	}
	return views.NodeOnline, true
}

func (h *NodeStatusHandler) Stop() {}

func (h *NodeStatusHandler) Matcher() update.Matcher {
	return update.NewRegexPathMatcher([]string{
		`^nodes\.[\w-]+\.consistency\.(pulse_table|clock_table)\..+$`,
	})
}
