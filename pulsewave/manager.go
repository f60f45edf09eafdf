package pulsewave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rippleFCL/meshmon/config"
	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/transport"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatRetries  = 3
	defaultPulseRate  = 1.0
)

// network bundles everything StoreManager runs for one network: the
// replicated store and the transport-side update handler wired to it.
// Connections and heartbeats are shared across every network on this
// node (see StoreManager.connections/heartbeats below), since a peer
// connection is already disambiguated by (nodeID, networkID) and one
// gRPC listener serves every network. Grounded on
// original_source/src/meshmon/pulsewave/distrostore.py's per-network
// bundling inside StoreManager.stores.
type network struct {
	id      string
	cfg     *config.NetworkConfig
	store   *SharedStore
	updates *transport.GrpcUpdateHandler
}

// StoreManager owns every network this node participates in: it loads
// (or creates) the key mapping and SharedStore for each, and exposes
// the NodeConfigSource/SinkFactory contracts the transport layer's
// Server and Dialer need to run against all of them from one gRPC
// service instance. A single ConnectionManager and HeartbeatController
// are shared across all networks, mirroring connection.py's
// module-level ConnectionManager/HeartbeatController rather than
// per-network state. Grounded on distrostore.py's StoreManager
// (load_stores/reload/get_store), generalized from its single
// NodeStatus/PingData concern to own the whole per-network bundle.
type StoreManager struct {
	keyDir  string
	metrics *metrics.Recorder

	connections *transport.ConnectionManager
	heartbeats  *transport.HeartbeatController

	mu       sync.RWMutex
	networks map[string]*network
}

// NewStoreManager returns a manager that persists/loads node keys
// under keyDir (see crypto.LoadOrCreateSigner).
func NewStoreManager(keyDir string) *StoreManager {
	connections := transport.NewConnectionManager()
	return &StoreManager{
		keyDir:      keyDir,
		networks:    make(map[string]*network),
		connections: connections,
		heartbeats:  transport.NewHeartbeatController(connections, heartbeatInterval, heartbeatRetries),
	}
}

// Connections returns the ConnectionManager shared by every loaded
// network, for wiring a transport.Server/Dialer against this manager.
func (m *StoreManager) Connections() *transport.ConnectionManager {
	return m.connections
}

// WithMetrics attaches a metrics.Recorder that every network loaded
// from this point on will report transport packet counts and leader
// election transitions through. Passing nil (the default) disables
// metrics.
func (m *StoreManager) WithMetrics(recorder *metrics.Recorder) *StoreManager {
	m.metrics = recorder
	return m
}

// LoadNetwork brings up (or replaces) the SharedStore and transport
// plumbing for one network from its resolved config, mirroring
// distrostore.py's StoreManager.load_stores iterating
// config.networks.items(). The local node's signer is loaded or
// created under keyDir/<network_id>; peer verifiers are loaded from
// pubkeyDir (config.py's pubkey_dir/global_pubkey_dir).
func (m *StoreManager) LoadNetwork(cfg *config.NetworkConfig, pubkeyDir string) error {
	signer, err := crypto.LoadOrCreateSigner(m.keyDir+"/"+cfg.NetworkID, cfg.NodeID)
	if err != nil {
		return fmt.Errorf("load signer for network %q: %w", cfg.NetworkID, err)
	}

	mapping := crypto.NewKeyMapping(signer)
	for _, node := range cfg.Nodes {
		if node.NodeID == cfg.NodeID {
			continue
		}
		verifier, err := crypto.LoadVerifier(pubkeyDir, node.NodeID)
		if err != nil {
			return fmt.Errorf("load verifier for peer %q on network %q: %w", node.NodeID, cfg.NetworkID, err)
		}
		mapping.AddVerifier(node.NodeID, verifier)
	}

	store, err := NewSharedStore(mapping)
	if err != nil {
		return fmt.Errorf("create shared store for network %q: %w", cfg.NetworkID, err)
	}
	store.RegisterHandlers(defaultPulseRate)
	store.SetMetrics(m.metrics)

	updates := transport.NewGrpcUpdateHandler(cfg.NetworkID, m.connections).WithMetrics(m.metrics)
	updates.Bind(store, store.Manager())
	store.Manager().AddHandler(updates)

	net := &network{
		id:      cfg.NetworkID,
		cfg:     cfg,
		store:   store,
		updates: updates,
	}

	m.mu.Lock()
	m.networks[cfg.NetworkID] = net
	m.mu.Unlock()
	return nil
}

// GetStore returns the SharedStore for a loaded network, mirroring
// distrostore.py's StoreManager.get_store.
func (m *StoreManager) GetStore(networkID string) (*SharedStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	net, ok := m.networks[networkID]
	if !ok {
		return nil, false
	}
	return net.store, true
}

// NetworkIDs returns every loaded network's id.
func (m *StoreManager) NetworkIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.networks))
	for id := range m.networks {
		ids = append(ids, id)
	}
	return ids
}

func (m *StoreManager) network(networkID string) (*network, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	net, ok := m.networks[networkID]
	return net, ok
}

// Run starts the update manager for every loaded network and the
// single shared heartbeat controller, returning once ctx is canceled
// and all of them have stopped.
func (m *StoreManager) Run(ctx context.Context) {
	m.mu.RLock()
	networks := make([]*network, 0, len(m.networks))
	for _, net := range m.networks {
		networks = append(networks, net)
	}
	m.mu.RUnlock()

	for _, net := range networks {
		net.store.Manager().Start(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.heartbeats.Run(ctx)
	}()
	wg.Wait()

	for _, net := range networks {
		net.store.Manager().Stop()
	}
}

// Reload updates the shared peer connection set to match links, the
// way distrostore.py's StoreManager.reload applies a fresh
// NetworkConfig's node_config to the live connection set. links
// should describe every network's desired peers, not just one, since
// ConnectionManager.Reload treats any connection absent from links as
// obsolete regardless of which network it belongs to.
func (m *StoreManager) Reload(links []transport.PeerLink) {
	m.connections.Reload(links)
}

// LocalNodeID implements transport.NodeConfigSource.
func (m *StoreManager) LocalNodeID(networkID string) (string, bool) {
	net, ok := m.network(networkID)
	if !ok {
		return "", false
	}
	return net.store.CurrentNodeID(), true
}

// Signer implements transport.NodeConfigSource.
func (m *StoreManager) Signer(networkID string) (*crypto.Signer, bool) {
	net, ok := m.network(networkID)
	if !ok {
		return nil, false
	}
	return net.store.Signer(), true
}

// Verifier implements transport.NodeConfigSource.
func (m *StoreManager) Verifier(networkID, nodeID string) (*crypto.Verifier, bool) {
	net, ok := m.network(networkID)
	if !ok {
		return nil, false
	}
	return net.store.Mapping().Verifier(nodeID)
}

// UpdateSink implements transport.SinkFactory.
func (m *StoreManager) UpdateSink(networkID string) transport.UpdateSink {
	net, ok := m.network(networkID)
	if !ok {
		return nil
	}
	return net.updates
}

// HeartbeatSink implements transport.SinkFactory. The heartbeat
// controller is shared across every loaded network; HeartbeatSink
// still reports nil for a network that isn't loaded, matching
// UpdateSink's contract.
func (m *StoreManager) HeartbeatSink(networkID string) transport.HeartbeatSink {
	if _, ok := m.network(networkID); !ok {
		return nil
	}
	return m.heartbeats
}

var (
	_ transport.NodeConfigSource = (*StoreManager)(nil)
	_ transport.SinkFactory      = (*StoreManager)(nil)
)
