package handlers

import (
	"log/slog"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/update"
	"github.com/rippleFCL/meshmon/pulsewave/views"
)

// PulseTableHandler records, for every peer, when the local node most
// recently observed that peer's self-reported clock pulse (spec §4.4).
type PulseTableHandler struct {
	store   Store
	manager *update.Manager
}

func NewPulseTableHandler() *PulseTableHandler {
	return &PulseTableHandler{}
}

func (h *PulseTableHandler) Bind(store Store, manager *update.Manager) {
	h.store = store
	h.manager = manager
}

func (h *PulseTableHandler) HandleUpdate() {
	local := h.store.LocalConsistency()
	pulseTable := local.PulseTable()

	for _, nodeID := range h.store.NodeIDs() {
		peer, ok := h.store.PeerConsistency(nodeID)
		if !ok {
			continue
		}
		clockPulse, ok := peer.ClockPulse()
		if !ok {
			continue
		}
		current, hasCurrent := pulseTable.Get(nodeID)
		if hasCurrent && clockPulse.Date.Equal(current.CurrentPulse) {
			continue
		}
		entry := views.PulseTableEntry{
			CurrentPulse: clockPulse.Date,
			CurrentTime:  time.Now().UTC(),
		}
		if err := pulseTable.Set(nodeID, entry); err != nil {
			slog.Warn("failed to set pulse table entry", "node_id", nodeID, "err", err)
			continue
		}
		h.manager.TriggerEvent("instant_update")
	}
}

func (h *PulseTableHandler) Stop() {}

func (h *PulseTableHandler) Matcher() update.Matcher {
	return update.NewRegexPathMatcher([]string{`^nodes\.[\w-]+\.consistency\.clock_pulse$`})
}
