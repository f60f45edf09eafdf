package transport

import (
	"log/slog"
	"sync"

	"github.com/rippleFCL/meshmon/pulsewave/transport/pb"
)

// Protocol builds outgoing frames and dispatches incoming ones for one
// RawConnection. Grounded on
// original_source/src/meshmon/connection/connection.py's ProtocolHandler
// Protocol and implemented by pulseWaveProtocol in protocol.go.
type Protocol interface {
	BuildPacket(kind pb.Kind, payload any) (*pb.Envelope, error)
	HandlePacket(env *pb.Envelope, conn *RawConnection)
}

// RawConnection is one physical gRPC stream to a peer. Outgoing frames
// queue on writeCh; a goroutine started by NewRawConnection drains readCh and invokes
// the bound Protocol for each inbound frame. Grounded on
// connection.py's RawConnection, with Python's queue.Queue/
// threading.Event replaced by buffered channels and a close channel in
// the Go idiom the teacher repo uses for its own worker loops.
type RawConnection struct {
	NetworkID  string
	DestNodeID string
	Initiator  string // "local" or "remote"

	protocol Protocol
	writeCh  chan *pb.Envelope
	readCh   chan *pb.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

const connectionQueueDepth = 64

// NewRawConnection returns a RawConnection bound to protocol and starts
// its read-dispatch loop.
func NewRawConnection(protocol Protocol, networkID, destNodeID, initiator string) *RawConnection {
	c := &RawConnection{
		NetworkID:  networkID,
		DestNodeID: destNodeID,
		Initiator:  initiator,
		protocol:   protocol,
		writeCh:    make(chan *pb.Envelope, connectionQueueDepth),
		readCh:     make(chan *pb.Envelope, connectionQueueDepth),
		closed:     make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *RawConnection) dispatchLoop() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.readCh:
			c.protocol.HandlePacket(env, c)
		}
	}
}

// HandleRequest enqueues an inbound frame read off the wire for
// dispatch to the protocol handler.
func (c *RawConnection) HandleRequest(env *pb.Envelope) {
	if c.IsClosed() {
		return
	}
	select {
	case c.readCh <- env:
	case <-c.closed:
	}
}

// SendResponse asks the protocol to frame payload and queues it for
// transmission to the peer.
func (c *RawConnection) SendResponse(kind pb.Kind, payload any) {
	if c.IsClosed() {
		return
	}
	env, err := c.protocol.BuildPacket(kind, payload)
	if err != nil {
		slog.Warn("failed to build outgoing packet", "dest_node_id", c.DestNodeID, "kind", kind, "error", err)
		return
	}
	select {
	case c.writeCh <- env:
	case <-c.closed:
	}
}

// GetResponse blocks until a queued outgoing frame is available or the
// connection closes, returning nil in the latter case.
func (c *RawConnection) GetResponse() *pb.Envelope {
	select {
	case env := <-c.writeCh:
		return env
	case <-c.closed:
		return nil
	}
}

func (c *RawConnection) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *RawConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Connection is the logical link to one peer over one network,
// potentially backed by more than one RawConnection (concurrent dial
// and accept racing to the same peer). Grounded on connection.py's
// Connection, using round-robin dispatch over whichever RawConnections
// are currently live.
type Connection struct {
	DestNodeID string
	SrcNodeID  string
	NetworkID  string

	mu       sync.Mutex
	raws     []*RawConnection
	selector int
}

func NewConnection(destNodeID, srcNodeID, networkID string) *Connection {
	return &Connection{DestNodeID: destNodeID, SrcNodeID: srcNodeID, NetworkID: networkID}
}

func (c *Connection) AddRawConnection(raw *RawConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raws = append(c.raws, raw)
}

func (c *Connection) RemoveRawConnection(raw *RawConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.raws {
		if r == raw {
			c.raws = append(c.raws[:i], c.raws[i+1:]...)
			raw.Close()
			return
		}
	}
}

func (c *Connection) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.raws {
		if !r.IsClosed() {
			return true
		}
	}
	return false
}

// SendResponse dispatches payload to the next live RawConnection in
// round-robin order.
func (c *Connection) SendResponse(kind pb.Kind, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for range c.raws {
		c.selector = (c.selector + 1) % len(c.raws)
		if raw := c.raws[c.selector]; !raw.IsClosed() {
			raw.SendResponse(kind, payload)
			return
		}
	}
}

func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.raws {
		r.Close()
	}
	c.raws = nil
}

// connKey identifies one Connection by destination node and network.
type connKey struct {
	nodeID    string
	networkID string
}

// PeerLink is one desired connection from the config: src should dial
// or accept from dest on network.
type PeerLink struct {
	DestNodeID string
	NetworkID  string
	SrcNodeID  string
}

// ConnectionManager owns all Connections for this node, keyed by peer
// and network, and reconciles them against the set of PeerLinks a
// config reload produces. Grounded on connection.py's
// ConnectionManager, minus its ConfigBus/ConfigWatcher subscription
// (cmd/meshmond builds the []PeerLink from config and passes it through
// StoreManager.Reload in pulsewave/manager.go, rather than this package
// depending on the config layer).
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[connKey]*Connection
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{connections: make(map[connKey]*Connection)}
}

func (m *ConnectionManager) GetConnection(nodeID, networkID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[connKey{nodeID, networkID}]
	return c, ok
}

func (m *ConnectionManager) AddConnection(destNodeID, srcNodeID, networkID string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := connKey{destNodeID, networkID}
	if c, ok := m.connections[key]; ok {
		return c
	}
	c := NewConnection(destNodeID, srcNodeID, networkID)
	m.connections[key] = c
	return c
}

func (m *ConnectionManager) RemoveConnection(nodeID, networkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := connKey{nodeID, networkID}
	if c, ok := m.connections[key]; ok {
		c.Close()
		delete(m.connections, key)
	}
}

// All returns a snapshot of the currently tracked connections.
func (m *ConnectionManager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		all = append(all, c)
	}
	return all
}

// Reload reconciles tracked connections against links, the desired set
// computed by the caller from the current config (mirroring
// connection.py's ConnectionManagerConfigPreprocessor, which is a
// config-layer concern in the original and stays out of this package).
func (m *ConnectionManager) Reload(links []PeerLink) {
	desired := make(map[connKey]string, len(links))
	for _, l := range links {
		desired[connKey{l.DestNodeID, l.NetworkID}] = l.SrcNodeID
	}

	m.mu.Lock()
	var toRemove []connKey
	for key := range m.connections {
		if _, ok := desired[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}
	m.mu.Unlock()

	for _, key := range toRemove {
		slog.Info("removing obsolete connection", "node_id", key.nodeID, "network_id", key.networkID)
		m.RemoveConnection(key.nodeID, key.networkID)
	}

	for key, srcNodeID := range desired {
		if _, ok := m.GetConnection(key.nodeID, key.networkID); !ok {
			slog.Info("adding new connection", "node_id", key.nodeID, "network_id", key.networkID, "initiator", srcNodeID)
			m.AddConnection(key.nodeID, srcNodeID, key.networkID)
		}
	}
}
