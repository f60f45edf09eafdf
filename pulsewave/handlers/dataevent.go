package handlers

import "github.com/rippleFCL/meshmon/pulsewave/update"

// DataUpdateHandler fires the application-visible "update" event
// whenever a node's plain values or contexts change, as distinct from
// the internal clock/pulse/status bookkeeping paths the other handlers
// in this package watch.
type DataUpdateHandler struct {
	manager *update.Manager
}

func NewDataUpdateHandler() *DataUpdateHandler {
	return &DataUpdateHandler{}
}

func (h *DataUpdateHandler) Bind(_ Store, manager *update.Manager) {
	h.manager = manager
}

func (h *DataUpdateHandler) HandleUpdate() {
	h.manager.TriggerEvent("update")
}

func (h *DataUpdateHandler) Stop() {}

func (h *DataUpdateHandler) Matcher() update.Matcher {
	return update.NewRegexPathMatcher([]string{
		`^nodes\.[\w-]+\.values\..+$`,
		`^nodes\.[\w-]+\.contexts\..+$`,
	})
}
