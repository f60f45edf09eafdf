// Package handlers implements the update-triggered computations that
// keep a node's clock table, pulse table, and node status table
// current, plus leader election over named consistent contexts (spec
// §4.4, §4.5).
package handlers

import (
	"log/slog"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
	"github.com/rippleFCL/meshmon/pulsewave/update"
	"github.com/rippleFCL/meshmon/pulsewave/views"
)

// ClusterView is the subset of views.ConsistencyContextView[T]'s
// methods that don't depend on its type parameter, letting
// LeaderElectionHandler work over any named cluster without caring
// what value type it carries.
type ClusterView interface {
	LeaderStatus() (data.LeaderEntry, bool)
	SetLeaderStatus(status data.LeaderStatus, nodeID string) error
	GetLeaderStatus(nodeID string) (data.LeaderEntry, bool)
	IsLeader() bool
	OnlineNodes() []string
	Nodes() []string
}

// Store is the narrow view of a SharedStore the handlers in this
// package need: enough to read every peer's published consistency and
// to mutate the local node's own.
type Store interface {
	NodeIDs() []string
	CurrentNodeID() string
	LocalConsistency() views.MutableConsistencyView
	PeerConsistency(nodeID string) (views.ConsistencyView, bool)
	Signer() *crypto.Signer
	ClusterNames() []string
	Cluster(name string) (ClusterView, bool)
}

// ClockTableHandler recomputes the local node's clock table entry for
// each peer whenever that peer's own pulse table records a new
// observation of our clock pulse (spec §4.4, Cristian-style clock sync
// without explicit request/response).
type ClockTableHandler struct {
	pulseInterval float64
	store         Store
	manager       *update.Manager
}

// NewClockTableHandler returns a handler using pulseInterval as the
// configured clock-pulse interval recorded into each new clock table
// entry.
func NewClockTableHandler(pulseInterval float64) *ClockTableHandler {
	return &ClockTableHandler{pulseInterval: pulseInterval}
}

func (h *ClockTableHandler) Bind(store Store, manager *update.Manager) {
	h.store = store
	h.manager = manager
}

func (h *ClockTableHandler) HandleUpdate() {
	local := h.store.LocalConsistency()
	clockTable := local.ClockTable()
	currentNodeID := h.store.CurrentNodeID()

	for _, nodeID := range h.store.NodeIDs() {
		peer, ok := h.store.PeerConsistency(nodeID)
		if !ok {
			continue
		}
		peerPulse, ok := peer.PulseTable().Get(currentNodeID)
		if !ok {
			continue
		}
		current, hasCurrent := clockTable.Get(nodeID)
		if hasCurrent && peerPulse.CurrentPulse.Equal(current.LastPulse) {
			continue
		}

		now := time.Now().UTC()
		pulseElapsed := now.Sub(peerPulse.CurrentPulse)
		hrtt := pulseElapsed / 2
		arrival := peerPulse.CurrentPulse.Add(hrtt)
		delta := arrival.Sub(peerPulse.CurrentTime)

		entry := views.ClockTableEntry{
			LastPulse:     peerPulse.CurrentPulse,
			RemoteTime:    peerPulse.CurrentTime,
			PulseInterval: h.pulseInterval,
			Delta:         delta,
			RTT:           hrtt * 2,
		}
		if err := clockTable.Set(nodeID, entry); err != nil {
			slog.Warn("failed to set clock table entry", "node_id", nodeID, "err", err)
			continue
		}
		h.manager.TriggerEvent("instant_update")
	}
}

func (h *ClockTableHandler) Stop() {}

func (h *ClockTableHandler) Matcher() update.Matcher {
	return update.NewRegexPathMatcher([]string{
		`^nodes\.[\w-]+\.consistency\.pulse_table\.` + h.store.CurrentNodeID() + `$`,
	})
}
