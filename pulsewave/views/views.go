// Package views exposes typed, ergonomic accessors over the raw
// pulsewave/data algebra: the opaque json.RawMessage payloads of
// Block/Context become generic Go values, and context mutation is
// wired straight into the update dispatch engine so callers never
// forget to signal a change (spec §4.1, "exposed surface").
package views

import (
	"log/slog"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
	"github.com/rippleFCL/meshmon/pulsewave/update"
)

// ContextView is a read-only, typed view over a Context.
type ContextView[T any] struct {
	path string
	ctx  *data.Context
}

// NewContextView wraps ctx for typed access. ctx may be nil, in which
// case the view behaves as empty.
func NewContextView[T any](path string, ctx *data.Context) ContextView[T] {
	return ContextView[T]{path: path, ctx: ctx}
}

// Get decodes the value stored at key, if any.
func (v ContextView[T]) Get(key string) (T, bool) {
	var zero T
	if v.ctx == nil {
		return zero, false
	}
	block, ok := v.ctx.Get(key)
	if !ok {
		return zero, false
	}
	var out T
	if err := block.Unmarshal(&out); err != nil {
		slog.Warn("failed to decode context entry", "path", v.path, "key", key, "err", err)
		return zero, false
	}
	return out, true
}

// Len reports how many entries the context currently holds.
func (v ContextView[T]) Len() int {
	if v.ctx == nil {
		return 0
	}
	return len(v.ctx.Data)
}

// Keys returns every key currently stored.
func (v ContextView[T]) Keys() []string {
	if v.ctx == nil {
		return nil
	}
	keys := make([]string, 0, len(v.ctx.Data))
	for k := range v.ctx.Data {
		keys = append(keys, k)
	}
	return keys
}

// MutableContextView adds Set/Delete to ContextView, signing through s
// and notifying manager of the changed path (spec §9 resign-on-mutation).
type MutableContextView[T any] struct {
	ContextView[T]
	signer  *crypto.Signer
	manager *update.Manager
}

// NewMutableContextView wraps ctx for typed read/write access. ctx must
// not be nil.
func NewMutableContextView[T any](path string, ctx *data.Context, signer *crypto.Signer, manager *update.Manager) MutableContextView[T] {
	return MutableContextView[T]{
		ContextView: NewContextView[T](path, ctx),
		signer:      signer,
		manager:     manager,
	}
}

// Set signs and stores value under key, replacing any prior entry
// under the NEWER replacement policy.
func (v MutableContextView[T]) Set(key string, value T) error {
	if _, err := v.ctx.Set(v.signer, key, value, data.Newer); err != nil {
		return err
	}
	v.manager.TriggerUpdate([]string{v.path + "." + key})
	return nil
}

// Delete removes key, if present.
func (v MutableContextView[T]) Delete(key string) error {
	if _, ok := v.ctx.Get(key); !ok {
		return nil
	}
	if err := v.ctx.Delete(v.signer, key); err != nil {
		return err
	}
	v.manager.TriggerUpdate([]string{v.path + "." + key})
	return nil
}

// ConsistencyView exposes the three well-known tables and the clock
// pulse of a Consistency block, read-only.
type ConsistencyView struct {
	path        string
	consistency *data.Consistency
}

// NewConsistencyView wraps consistency, which may be nil.
func NewConsistencyView(path string, consistency *data.Consistency) ConsistencyView {
	return ConsistencyView{path: path, consistency: consistency}
}

func (v ConsistencyView) ClockTable() ContextView[ClockTableEntry] {
	if v.consistency == nil {
		return NewContextView[ClockTableEntry](v.path+".clock_table", nil)
	}
	return NewContextView[ClockTableEntry](v.path+".clock_table", v.consistency.ClockTable)
}

func (v ConsistencyView) NodeStatusTable() ContextView[NodeStatusEntry] {
	if v.consistency == nil {
		return NewContextView[NodeStatusEntry](v.path+".node_status_table", nil)
	}
	return NewContextView[NodeStatusEntry](v.path+".node_status_table", v.consistency.NodeStatusTable)
}

func (v ConsistencyView) PulseTable() ContextView[PulseTableEntry] {
	if v.consistency == nil {
		return NewContextView[PulseTableEntry](v.path+".pulse_table", nil)
	}
	return NewContextView[PulseTableEntry](v.path+".pulse_table", v.consistency.PulseTable)
}

// ClockPulse decodes the current clock pulse, if any.
func (v ConsistencyView) ClockPulse() (ClockPulse, bool) {
	var zero ClockPulse
	if v.consistency == nil || v.consistency.ClockPulse == nil {
		return zero, false
	}
	var out ClockPulse
	if err := v.consistency.ClockPulse.Unmarshal(&out); err != nil {
		return zero, false
	}
	return out, true
}

// MutableConsistencyView adds write access to ConsistencyView.
type MutableConsistencyView struct {
	ConsistencyView
	signer  *crypto.Signer
	manager *update.Manager
}

func NewMutableConsistencyView(path string, consistency *data.Consistency, signer *crypto.Signer, manager *update.Manager) MutableConsistencyView {
	return MutableConsistencyView{
		ConsistencyView: NewConsistencyView(path, consistency),
		signer:          signer,
		manager:         manager,
	}
}

func (v MutableConsistencyView) ClockTable() MutableContextView[ClockTableEntry] {
	return NewMutableContextView[ClockTableEntry](v.path+".clock_table", v.consistency.ClockTable, v.signer, v.manager)
}

func (v MutableConsistencyView) NodeStatusTable() MutableContextView[NodeStatusEntry] {
	return NewMutableContextView[NodeStatusEntry](v.path+".node_status_table", v.consistency.NodeStatusTable, v.signer, v.manager)
}

func (v MutableConsistencyView) PulseTable() MutableContextView[PulseTableEntry] {
	return NewMutableContextView[PulseTableEntry](v.path+".pulse_table", v.consistency.PulseTable, v.signer, v.manager)
}

// SetClockPulse signs a fresh clock pulse for the local node's own
// consistency block.
func (v MutableConsistencyView) SetClockPulse(pulse ClockPulse) error {
	block, err := data.NewBlock(v.signer, pulse, "clock_pulse", data.Newer, "")
	if err != nil {
		return err
	}
	v.consistency.ClockPulse = block
	v.manager.TriggerUpdate([]string{v.path + ".clock_pulse"})
	return nil
}

// Domain payload types decoded out of opaque Block/Context data. These
// mirror spec §4.3/§4.4's table entry shapes.
type ClockTableEntry struct {
	LastPulse     time.Time     `json:"last_pulse"`
	PulseInterval float64       `json:"pulse_interval"`
	Delta         time.Duration `json:"delta"`
	RTT           time.Duration `json:"rtt"`
	RemoteTime    time.Time     `json:"remote_time"`
}

type PulseTableEntry struct {
	CurrentPulse time.Time `json:"current_pulse"`
	CurrentTime  time.Time `json:"current_time"`
}

type ClockPulse struct {
	Date time.Time `json:"date"`
}

type NodeStatus string

const (
	NodeOnline  NodeStatus = "ONLINE"
	NodeOffline NodeStatus = "OFFLINE"
)

type NodeStatusEntry struct {
	Status NodeStatus `json:"status"`
}

// keyMapping is the narrow collaborator the consistency-context view
// needs: lookup a verifier and know the local signer's node id.
type keyMapping interface {
	Verifier(nodeID string) (*crypto.Verifier, bool)
}

// ConsistencyContextView is a cross-node view over one named consistent
// context (spec §4.5): leader status read/write for the local node,
// online-node discovery via the local node's own status table, and
// clock-adjusted reads of the shared key/value data bound to the
// cluster secret.
type ConsistencyContextView[T any] struct {
	store    *data.Store
	ctxName  string
	path     string
	mapping  keyMapping
	signer   *crypto.Signer
	manager  *update.Manager
	secret   string
}

// NewConsistencyContextView ensures the local node has a consistency
// block and a consistent context entry for ctxName, creating both if
// absent, and returns a view over it.
func NewConsistencyContextView[T any](store *data.Store, ctxName, path string, mapping keyMapping, signer *crypto.Signer, manager *update.Manager, secret string) (*ConsistencyContextView[T], error) {
	v := &ConsistencyContextView[T]{
		store: store, ctxName: ctxName, path: path,
		mapping: mapping, signer: signer, manager: manager, secret: secret,
	}
	if err := v.ensureLocal(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *ConsistencyContextView[T]) ensureLocal() error {
	nodeID := v.signer.NodeID
	var touched []string

	nd, ok := v.store.Nodes[nodeID]
	if !ok {
		nd = data.NewNodeData()
		v.store.Nodes[nodeID] = nd
		touched = append(touched, "nodes."+nodeID)
	}
	if nd.Consistency == nil {
		consistency, err := data.NewConsistency(v.signer)
		if err != nil {
			return err
		}
		nd.Consistency = consistency
		touched = append(touched, "nodes."+nodeID+".consistency")
	}
	if _, ok := nd.Consistency.ConsistentContexts[v.ctxName]; !ok {
		cc, err := data.NewConsistentContext(v.signer, v.ctxName, v.secret)
		if err != nil {
			return err
		}
		nd.Consistency.ConsistentContexts[v.ctxName] = cc
		touched = append(touched, "nodes."+nodeID+".consistency.consistent_contexts."+v.ctxName)
	}
	if len(touched) > 0 {
		v.manager.TriggerUpdate(touched)
	}
	return nil
}

func (v *ConsistencyContextView[T]) localConsistentContext() *data.ConsistentContext {
	nd := v.store.Nodes[v.signer.NodeID]
	return nd.Consistency.ConsistentContexts[v.ctxName]
}

func (v *ConsistencyContextView[T]) consistentContextOf(nodeID string) *data.ConsistentContext {
	nd, ok := v.store.Nodes[nodeID]
	if !ok || nd.Consistency == nil {
		return nil
	}
	return nd.Consistency.ConsistentContexts[v.ctxName]
}

func (v *ConsistencyContextView[T]) clockEntryFor(nodeID string) (ClockTableEntry, bool) {
	local, ok := v.store.Nodes[v.signer.NodeID]
	if !ok || local.Consistency == nil {
		return ClockTableEntry{}, false
	}
	block, ok := local.Consistency.ClockTable.Get(nodeID)
	if !ok {
		return ClockTableEntry{}, false
	}
	var entry ClockTableEntry
	if err := block.Unmarshal(&entry); err != nil {
		return ClockTableEntry{}, false
	}
	return entry, true
}

// LeaderStatus returns the local node's own leader claim for this
// context.
func (v *ConsistencyContextView[T]) LeaderStatus() (data.LeaderEntry, bool) {
	verifier := v.signer.Verifier()
	return v.localConsistentContext().LeaderClaim(verifier, v.path, v.secret)
}

// SetLeaderStatus signs a new leader claim for the local node.
func (v *ConsistencyContextView[T]) SetLeaderStatus(status data.LeaderStatus, nodeID string) error {
	if err := v.localConsistentContext().SetLeaderClaim(v.signer, status, nodeID, v.secret); err != nil {
		return err
	}
	v.manager.TriggerUpdate([]string{v.path + ".leader"})
	return nil
}

// GetLeaderStatus returns nodeID's claimed leader status, if it
// verifies.
func (v *ConsistencyContextView[T]) GetLeaderStatus(nodeID string) (data.LeaderEntry, bool) {
	cc := v.consistentContextOf(nodeID)
	if cc == nil {
		return data.LeaderEntry{}, false
	}
	verifier, ok := v.mapping.Verifier(nodeID)
	if !ok {
		return data.LeaderEntry{}, false
	}
	return cc.LeaderClaim(verifier, v.path, v.secret)
}

// IsLeader reports whether exactly one online node claims LEADER for
// this context, and it is the local node.
func (v *ConsistencyContextView[T]) IsLeader() bool {
	self := v.signer.NodeID
	candidates := []string{self}
	for _, nodeID := range v.OnlineNodes() {
		if nodeID != self {
			candidates = append(candidates, nodeID)
		}
	}
	var leaders []string
	for _, nodeID := range candidates {
		entry, ok := v.GetLeaderStatus(nodeID)
		if !ok {
			continue
		}
		if entry.Status == data.LeaderStatusLeader {
			leaders = append(leaders, nodeID)
		}
	}
	if len(leaders) != 1 {
		return false
	}
	return leaders[0] == v.signer.NodeID
}

// Get returns the most recent verified value for key across every
// member's context entry, adjusted for clock skew via each member's
// clock table delta relative to the local node (spec §9 clock-adjusted
// ordering: a remote entry's apparent date is corrected by the local
// node's estimate of that remote's clock offset before comparing).
func (v *ConsistencyContextView[T]) Get(key string) (T, bool) {
	var zero T
	var best *data.Block
	var bestDate time.Time

	for nodeID := range v.store.Nodes {
		cc := v.consistentContextOf(nodeID)
		if cc == nil || cc.Context == nil {
			continue
		}
		block, ok := cc.Context.Get(key)
		if !ok {
			continue
		}
		verifier, ok := v.mapping.Verifier(nodeID)
		if !ok {
			continue
		}
		if !block.Verify(verifier, key, v.path+"."+key, "") {
			continue
		}
		var delta time.Duration
		if nodeID != v.signer.NodeID {
			clockEntry, ok := v.clockEntryFor(nodeID)
			if !ok {
				continue
			}
			delta = clockEntry.Delta
		}
		adjusted := block.Date.Add(delta)
		if best == nil || adjusted.After(bestDate) {
			best = block
			bestDate = adjusted
		}
	}
	if best == nil {
		return zero, false
	}
	var out T
	if err := best.Unmarshal(&out); err != nil {
		return zero, false
	}
	return out, true
}

// Set writes key into the local node's consistent context.
func (v *ConsistencyContextView[T]) Set(key string, value T) error {
	cc := v.localConsistentContext()
	if cc.Context == nil {
		ctx, err := data.NewContext(v.signer, "context")
		if err != nil {
			return err
		}
		cc.Context = ctx
	}
	if _, err := cc.Context.Set(v.signer, key, value, data.Newer); err != nil {
		return err
	}
	v.manager.TriggerUpdate([]string{v.path + "." + key})
	return nil
}

// OnlineNodes returns the subset of Nodes() the local node's own
// node_status_table marks ONLINE.
func (v *ConsistencyContextView[T]) OnlineNodes() []string {
	local, ok := v.store.Nodes[v.signer.NodeID]
	if !ok || local.Consistency == nil {
		return nil
	}
	var online []string
	for _, nodeID := range v.Nodes() {
		block, ok := local.Consistency.NodeStatusTable.Get(nodeID)
		if !ok {
			continue
		}
		var entry NodeStatusEntry
		if err := block.Unmarshal(&entry); err != nil {
			continue
		}
		if entry.Status == NodeOnline {
			online = append(online, nodeID)
		}
	}
	return online
}

// Nodes returns every node id with a verified leader claim for this
// context, i.e. every node actually participating in this cluster.
func (v *ConsistencyContextView[T]) Nodes() []string {
	var nodes []string
	for nodeID := range v.store.Nodes {
		cc := v.consistentContextOf(nodeID)
		if cc == nil || cc.Leader == nil {
			continue
		}
		verifier, ok := v.mapping.Verifier(nodeID)
		if !ok {
			continue
		}
		if !cc.Leader.Verify(verifier, "leader", v.path+".leader", "") {
			continue
		}
		nodes = append(nodes, nodeID)
	}
	return nodes
}

// NodeConsistencyContextView iterates every consistent context a
// single node participates in, read-only (used by leader-status
// fan-out views, spec §4.5).
type NodeConsistencyContextView struct {
	store  *data.Store
	nodeID string
}

func NewNodeConsistencyContextView(store *data.Store, nodeID string) NodeConsistencyContextView {
	return NodeConsistencyContextView{store: store, nodeID: nodeID}
}

// NodeStatuses returns this node's leader claim in every consistent
// context it has published one for, unverified (verification requires
// a per-context secret the caller must supply separately).
func (v NodeConsistencyContextView) NodeStatuses() map[string]*data.Block {
	out := make(map[string]*data.Block)
	nd, ok := v.store.Nodes[v.nodeID]
	if !ok || nd.Consistency == nil {
		return out
	}
	for clusterID, cc := range nd.Consistency.ConsistentContexts {
		if cc.Leader != nil {
			out[clusterID] = cc.Leader
		}
	}
	return out
}
