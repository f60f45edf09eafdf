// Package pulsewave is the composition root binding the data, views,
// update, updater, and handlers packages into one running replica:
// a SharedStore per network, driven by the update dispatch engine and
// the clock-sync/leader-election handlers, fed and drained by the
// transport layer.
package pulsewave

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
	"github.com/rippleFCL/meshmon/pulsewave/handlers"
	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/transport"
	"github.com/rippleFCL/meshmon/pulsewave/update"
	"github.com/rippleFCL/meshmon/pulsewave/views"
)

// SharedStore is one network's replicated store plus everything local
// to this node that drives it: the signed local NodeData, the update
// dispatch manager, and the registry of consistency (cluster) contexts
// this node currently participates in. Grounded on
// original_source/src/meshmon/pulsewave/store.py's SharedStore.
type SharedStore struct {
	store   *data.Store
	mapping *crypto.KeyMapping
	manager *update.Manager

	clusters      map[string]*views.ConsistencyContextView[json.RawMessage]
	leaderHandler *handlers.LeaderElectionHandler
}

// NewSharedStore creates a SharedStore for one network, signing an
// initial NodeData entry for the local node (mirroring store.py's
// SharedStore.load).
func NewSharedStore(mapping *crypto.KeyMapping) (*SharedStore, error) {
	s := &SharedStore{
		store:    data.NewStore(),
		mapping:  mapping,
		manager:  update.NewManager(),
		clusters: make(map[string]*views.ConsistencyContextView[json.RawMessage]),
	}
	if err := s.ensureLocalNode(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SharedStore) ensureLocalNode() error {
	selfID := s.mapping.Signer.NodeID
	if _, ok := s.store.Nodes[selfID]; ok {
		return nil
	}
	nd := data.NewNodeData()
	consistency, err := data.NewConsistency(s.mapping.Signer)
	if err != nil {
		return fmt.Errorf("sign initial consistency block for %q: %w", selfID, err)
	}
	nd.Consistency = consistency
	s.store.Nodes[selfID] = nd
	return nil
}

// CurrentNodeID returns the local node's id.
func (s *SharedStore) CurrentNodeID() string { return s.mapping.Signer.NodeID }

// Signer returns the local signing identity.
func (s *SharedStore) Signer() *crypto.Signer { return s.mapping.Signer }

// Mapping returns the key mapping backing this store, for collaborators
// (the transport layer's incremental confirm step, handler wiring)
// that need to verify against it directly.
func (s *SharedStore) Mapping() *crypto.KeyMapping { return s.mapping }

// Manager returns the update dispatch manager driving this store's
// handlers.
func (s *SharedStore) Manager() *update.Manager { return s.manager }

// NodeIDs returns every known peer id, excluding the local node.
func (s *SharedStore) NodeIDs() []string {
	selfID := s.CurrentNodeID()
	var ids []string
	for _, id := range s.mapping.Nodes() {
		if id != selfID {
			ids = append(ids, id)
		}
	}
	return ids
}

// LocalConsistency returns a mutable view over this node's own
// consistency block, creating it if a node data entry somehow lacks
// one.
func (s *SharedStore) LocalConsistency() views.MutableConsistencyView {
	selfID := s.CurrentNodeID()
	nd := s.store.Nodes[selfID]
	if nd.Consistency == nil {
		consistency, err := data.NewConsistency(s.mapping.Signer)
		if err != nil {
			slog.Error("failed to sign consistency block for local node", "node_id", selfID, "error", err)
		} else {
			nd.Consistency = consistency
		}
	}
	return views.NewMutableConsistencyView("nodes."+selfID+".consistency", nd.Consistency, s.mapping.Signer, s.manager)
}

// PeerConsistency returns a read-only view over a peer's consistency
// block, if that peer is known and has published one.
func (s *SharedStore) PeerConsistency(nodeID string) (views.ConsistencyView, bool) {
	nd, ok := s.store.Nodes[nodeID]
	if !ok || nd.Consistency == nil {
		return views.ConsistencyView{}, false
	}
	return views.NewConsistencyView("nodes."+nodeID+".consistency", nd.Consistency), true
}

// ClusterNames returns the names of every consistency context this
// node currently participates in.
func (s *SharedStore) ClusterNames() []string {
	names := make([]string, 0, len(s.clusters))
	for name := range s.clusters {
		names = append(names, name)
	}
	return names
}

// Cluster returns the named consistency context's view, if this node
// has joined it.
func (s *SharedStore) Cluster(name string) (handlers.ClusterView, bool) {
	v, ok := s.clusters[name]
	return v, ok
}

// JoinCluster registers (creating if necessary) a named consistency
// context secured by secret, making it visible via Cluster/ClusterNames
// to the leader election and clock handlers from then on. Grounded on
// store.py's get_context pattern of lazily creating local state on
// first access.
func (s *SharedStore) JoinCluster(name, secret string) (*views.ConsistencyContextView[json.RawMessage], error) {
	if v, ok := s.clusters[name]; ok {
		return v, nil
	}
	v, err := views.NewConsistencyContextView[json.RawMessage](
		s.store, name, "nodes."+s.CurrentNodeID()+".consistency.consistent_contexts."+name,
		s.mapping, s.mapping.Signer, s.manager, secret,
	)
	if err != nil {
		return nil, fmt.Errorf("join cluster %q: %w", name, err)
	}
	s.clusters[name] = v
	return v, nil
}

// GetClusterValue decodes the JSON-encoded value a cluster member
// published under key into out.
func GetClusterValue[T any](v *views.ConsistencyContextView[json.RawMessage], key string) (T, bool) {
	var out T
	raw, ok := v.Get(key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("failed to decode cluster value", "key", key, "error", err)
		return out, false
	}
	return out, true
}

// SetClusterValue JSON-encodes value and publishes it under key on
// behalf of the local node.
func SetClusterValue[T any](v *views.ConsistencyContextView[json.RawMessage], key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cluster value for key %q: %w", key, err)
	}
	return v.Set(key, raw)
}

// Values returns the value keys a node (the local node, if nodeID is
// empty) has published at the top level.
func (s *SharedStore) Values(nodeID string) []string {
	nd := s.nodeOrSelf(nodeID)
	if nd == nil {
		return nil
	}
	keys := make([]string, 0, len(nd.Values))
	for k := range nd.Values {
		keys = append(keys, k)
	}
	return keys
}

// Contexts returns the context names a node (the local node, if nodeID
// is empty) has published.
func (s *SharedStore) Contexts(nodeID string) []string {
	nd := s.nodeOrSelf(nodeID)
	if nd == nil {
		return nil
	}
	names := make([]string, 0, len(nd.Contexts))
	for k := range nd.Contexts {
		names = append(names, k)
	}
	return names
}

func (s *SharedStore) nodeOrSelf(nodeID string) *data.NodeData {
	if nodeID == "" {
		nodeID = s.CurrentNodeID()
	}
	return s.store.Nodes[nodeID]
}

// GetValue decodes the local (or, if nodeID is set, a peer's)
// top-level value for key into T.
func GetValue[T any](s *SharedStore, key, nodeID string) (T, bool) {
	var out T
	nd := s.nodeOrSelf(nodeID)
	if nd == nil {
		return out, false
	}
	block, ok := nd.Values[key]
	if !ok {
		return out, false
	}
	if err := block.Unmarshal(&out); err != nil {
		slog.Warn("failed to decode value", "key", key, "error", err)
		return out, false
	}
	return out, true
}

// SetValue signs and publishes value under key on the local node.
func SetValue[T any](s *SharedStore, key string, value T, repType data.ReplacementType) error {
	nd := s.store.Nodes[s.CurrentNodeID()]
	block, err := data.NewBlock(s.mapping.Signer, value, key, repType, "")
	if err != nil {
		return fmt.Errorf("sign value %q: %w", key, err)
	}
	nd.Values[key] = block
	s.manager.TriggerUpdate([]string{"nodes." + s.CurrentNodeID() + ".values." + key})
	return nil
}

// GetContext returns a read-only view over a peer's named context.
func GetContext[T any](s *SharedStore, name, nodeID string) (views.ContextView[T], bool) {
	nd := s.nodeOrSelf(nodeID)
	if nd == nil {
		return views.ContextView[T]{}, false
	}
	ctx, ok := nd.Contexts[name]
	if !ok {
		return views.ContextView[T]{}, false
	}
	return views.NewContextView[T]("nodes."+nodeOrSelfID(s, nodeID)+".contexts."+name, ctx), true
}

// GetLocalContext returns a mutable view over the local node's named
// context, creating it if this is the first access.
func GetLocalContext[T any](s *SharedStore, name string) (views.MutableContextView[T], error) {
	selfID := s.CurrentNodeID()
	nd := s.store.Nodes[selfID]
	ctx, ok := nd.Contexts[name]
	if !ok {
		var err error
		ctx, err = data.NewContext(s.mapping.Signer, name)
		if err != nil {
			return views.MutableContextView[T]{}, fmt.Errorf("create context %q: %w", name, err)
		}
		nd.Contexts[name] = ctx
	}
	return views.NewMutableContextView[T]("nodes."+selfID+".contexts."+name, ctx, s.mapping.Signer, s.manager), nil
}

func nodeOrSelfID(s *SharedStore, nodeID string) string {
	if nodeID == "" {
		return s.CurrentNodeID()
	}
	return nodeID
}

// Snapshot returns a deep copy of the current store, for diffing
// against a peer's last-confirmed snapshot (transport.UpdateStore).
func (s *SharedStore) Snapshot() *data.Store {
	return s.store.Clone()
}

// ApplyRemote merges a fragment or full dump received from a peer into
// this store, verifying against the key mapping (transport.UpdateStore).
func (s *SharedStore) ApplyRemote(incoming *data.Store) {
	updated := s.store.Update(incoming, s.mapping)
	if len(updated) > 0 {
		s.manager.TriggerUpdate(updated)
	}
}

// Dump serializes the full store to JSON, for operator backup or
// transfer between nodes outside the gossip path (spec.md §6's dump
// surface).
func (s *SharedStore) Dump() ([]byte, error) {
	return json.Marshal(s.store)
}

// LoadDump replaces the store's contents with a prior Dump, verifying
// every node against the key mapping the same way a gossiped update
// is verified. Unknown or unverifiable nodes are dropped, matching
// Update's partial-trust behaviour.
func (s *SharedStore) LoadDump(raw []byte) error {
	incoming := data.NewStore()
	if err := json.Unmarshal(raw, incoming); err != nil {
		return fmt.Errorf("unmarshal dump: %w", err)
	}
	s.store = data.NewStore()
	s.store.Update(incoming, s.mapping)
	return nil
}

// RegisterHandlers binds and registers this store's clock-sync and
// leader-election handlers with the update manager; the manager's own
// Start/Stop (teacher-style context.WithCancel + sync.WaitGroup
// lifecycle) then drives their dispatch loops.
func (s *SharedStore) RegisterHandlers(pulseInterval float64) {
	s.leaderHandler = handlers.NewLeaderElectionHandler()
	for _, h := range []update.Handler{
		handlers.NewPulseTableHandler(),
		handlers.NewClockTableHandler(pulseInterval),
		handlers.NewNodeStatusHandler(pulseInterval),
		s.leaderHandler,
		handlers.NewDataUpdateHandler(),
	} {
		if binder, ok := h.(interface {
			Bind(handlers.Store, *update.Manager)
		}); ok {
			binder.Bind(s, s.manager)
		}
		s.manager.AddHandler(h)
	}
}

// SetMetrics attaches a metrics.Recorder to this store's leader
// election handler, so election transitions surface on
// pulsewave.consensus.leader_transitions. Must be called after
// RegisterHandlers; passing nil disables metrics. No-op before
// RegisterHandlers has run.
func (s *SharedStore) SetMetrics(recorder *metrics.Recorder) {
	if s.leaderHandler != nil {
		s.leaderHandler.WithMetrics(recorder)
	}
}

var (
	_ handlers.Store        = (*SharedStore)(nil)
	_ transport.UpdateStore = (*SharedStore)(nil)
)
