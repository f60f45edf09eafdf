package data

import (
	"log/slog"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
)

// keyMapping is the narrow view of crypto.KeyMapping the store needs:
// look up a verifier by node id.
type keyMapping interface {
	Verifier(nodeID string) (*crypto.Verifier, bool)
}

// Store is the top-level replicated structure: one NodeData per
// cluster member, each verified against that member's own key from the
// key mapping (spec §3 "Store", invariant 1 in §8).
type Store struct {
	Nodes map[string]*NodeData `json:"nodes"`
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{Nodes: make(map[string]*NodeData)}
}

// Update merges other into s in place, verifying each node's data
// against its own key from mapping. Unknown node ids are skipped with
// a warning rather than rejecting the whole update (spec §4.1: a
// partially-unknown peer set must not block convergence of known
// peers).
func (s *Store) Update(other *Store, mapping keyMapping) []string {
	var updated []string
	for nodeID, incoming := range other.Nodes {
		v, ok := mapping.Verifier(nodeID)
		if !ok {
			slog.Warn("node id not in key mapping, skipping update", "node_id", nodeID)
			continue
		}
		current, exists := s.Nodes[nodeID]
		if !exists {
			if incoming.Verify(v, "nodes."+nodeID) {
				s.Nodes[nodeID] = incoming.Clone()
				updated = append(updated, "nodes."+nodeID)
				updated = append(updated, incoming.AllPaths("nodes."+nodeID)...)
			} else {
				slog.Warn("node data verification failed for new node, skipping update", "node_id", nodeID)
			}
			continue
		}
		updated = append(updated, current.Update("nodes."+nodeID, incoming, v)...)
	}
	return updated
}

// Diff returns a Store containing everything that differs between s and
// other, for every node present in either; applying it to either side
// brings that side up to the merge of both (spec §4.1 round-trip law).
func (s *Store) Diff(other *Store) *Store {
	out := NewStore()
	for nodeID := range unionMapKeys(s.Nodes, other.Nodes) {
		cv, cok := s.Nodes[nodeID]
		ov, ook := other.Nodes[nodeID]
		switch {
		case cok && !ook:
			out.Nodes[nodeID] = cv
		case !cok && ook:
			out.Nodes[nodeID] = ov
		default:
			if d := cv.Diff(ov); d != nil {
				out.Nodes[nodeID] = d
			}
		}
	}
	return out
}

// AllPaths flattens every observable path in the store.
func (s *Store) AllPaths() []string {
	var paths []string
	for nodeID, nd := range s.Nodes {
		paths = append(paths, nd.AllPaths("nodes."+nodeID)...)
	}
	return paths
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	clone := NewStore()
	for k, v := range s.Nodes {
		clone.Nodes[k] = v.Clone()
	}
	return clone
}

var _ keyMapping = (*crypto.KeyMapping)(nil)
