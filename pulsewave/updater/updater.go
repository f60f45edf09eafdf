// Package updater implements the per-peer incremental sync state used
// to compute and confirm diffs sent to a single neighbour (spec §4.2
// "IncrementalUpdater").
package updater

import (
	"sync"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
)

// keyMapping is the narrow collaborator Incremental needs to verify
// incoming store fragments.
type keyMapping interface {
	Verifier(nodeID string) (*crypto.Verifier, bool)
}

// Incremental tracks the last store snapshot a peer is known to have
// acknowledged, so repeated syncs only ever send the delta (spec §4.2).
// Safe for concurrent use: every method holds the Incremental's own
// mutex.
type Incremental struct {
	mu      sync.Mutex
	lastAck *data.Store
}

// New returns an Incremental starting from an empty acknowledged state,
// i.e. the first diff sent to a fresh peer is the whole store.
func New() *Incremental {
	return &Incremental{lastAck: data.NewStore()}
}

// Diff returns what current has beyond the last acknowledged snapshot,
// excluding destNodeID's own partition — a peer needs no echo of its
// own data (spec §4.2).
func (u *Incremental) Diff(current *data.Store, destNodeID string) *data.Store {
	u.mu.Lock()
	defer u.mu.Unlock()
	diff := u.lastAck.Diff(current)
	delete(diff.Nodes, destNodeID)
	return diff
}

// Confirm records that sent was successfully delivered and applied by
// the peer, advancing the acknowledged snapshot.
func (u *Incremental) Confirm(sent *data.Store, mapping keyMapping) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastAck.Update(sent, mapping)
}

// Reset drops the acknowledged snapshot back to empty, so the next
// Diff resends everything. Resending the full store is always safe,
// since merging is idempotent (spec §4.2).
func (u *Incremental) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastAck = data.NewStore()
}
