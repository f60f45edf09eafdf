package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rippleFCL/meshmon/pulsewave/errs"
	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/transport/pb"
)

const dialerReconnectInterval = 10 * time.Second

// Dialer maintains outgoing Transport connections to configured peers,
// reconnecting on failure. Grounded on
// original_source/src/meshmon/connection/grpc_client.py's GrpcClient,
// with the Python background thread replaced by a context-scoped
// goroutine per peer in the teacher's lifecycle idiom
// (context.WithCancel + sync.WaitGroup).
type Dialer struct {
	config      NodeConfigSource
	sinks       SinkFactory
	connections *ConnectionManager
	metrics     *metrics.Recorder

	mu      sync.Mutex
	cancels map[connKey]context.CancelFunc
	wg      sync.WaitGroup
}

func NewDialer(config NodeConfigSource, sinks SinkFactory, connections *ConnectionManager) *Dialer {
	return &Dialer{
		config:      config,
		sinks:       sinks,
		connections: connections,
		cancels:     make(map[connKey]context.CancelFunc),
	}
}

// WithMetrics attaches a metrics.Recorder that observes connection
// failures. Passing nil (the default) disables metrics.
func (d *Dialer) WithMetrics(recorder *metrics.Recorder) *Dialer {
	d.metrics = recorder
	return d
}

func normalizeAddress(url string) string {
	switch {
	case strings.HasPrefix(url, "grpc://"):
		return strings.TrimPrefix(url, "grpc://")
	case strings.HasPrefix(url, "http://"):
		return strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return strings.TrimPrefix(url, "https://")
	default:
		return url
	}
}

// EnsureConnected starts (if not already running) a dial-and-retry loop
// for one peer. Calling it again for a link already being dialed is a
// no-op, mirroring grpc_client.py's dead-thread reaping in
// _connection_manager.
func (d *Dialer) EnsureConnected(ctx context.Context, link PeerLink, rawAddress string) {
	key := connKey{link.DestNodeID, link.NetworkID}
	address := normalizeAddress(rawAddress)
	if address == "" {
		return
	}

	d.mu.Lock()
	if _, running := d.cancels[key]; running {
		d.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancels[key] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.cancels, key)
			d.mu.Unlock()
		}()
		d.dialLoop(loopCtx, link, address)
	}()
}

// Disconnect stops the dial loop for a peer no longer present in the
// config, mirroring grpc_client.py's dead-thread cleanup triggered by a
// ConnectionManager reload.
func (d *Dialer) Disconnect(link PeerLink) {
	key := connKey{link.DestNodeID, link.NetworkID}
	d.mu.Lock()
	cancel, ok := d.cancels[key]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Dialer) Stop() {
	d.mu.Lock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dialer) dialLoop(ctx context.Context, link PeerLink, address string) {
	for {
		if err := d.connectOnce(ctx, link, address); err != nil {
			slog.Debug("transport stream ended", "node_id", link.DestNodeID, "network_id", link.NetworkID, "address", address, "error", err)
			d.metrics.ConnectionFailed(ctx, link.NetworkID, link.DestNodeID)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(dialerReconnectInterval):
		}
	}
}

func (d *Dialer) connectOnce(ctx context.Context, link PeerLink, address string) error {
	localNodeID, ok := d.config.LocalNodeID(link.NetworkID)
	if !ok {
		return fmt.Errorf("unknown network %q", link.NetworkID)
	}
	signer, ok := d.config.Signer(link.NetworkID)
	if !ok {
		return fmt.Errorf("no signer for network %q", link.NetworkID)
	}
	verifier, ok := d.config.Verifier(link.NetworkID, link.DestNodeID)
	if !ok {
		return fmt.Errorf("no verifier for peer %q on network %q", link.DestNodeID, link.NetworkID)
	}

	cc, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", errs.PeerUnreachable, address, err)
	}
	defer cc.Close()

	client := NewTransportClient(cc)
	stream, err := client.Stream(ctx)
	if err != nil {
		return fmt.Errorf("%w: open stream to %s: %v", errs.PeerUnreachable, address, err)
	}

	localNonce := uuid.NewString()
	initEnv, err := pb.Marshal(pb.KindConnectionInit, pb.ConnectionInit{NodeID: localNodeID, NetworkID: link.NetworkID, Nonce: localNonce})
	if err != nil {
		return err
	}
	if err := sendClientEnvelope(stream, initEnv); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("recv connection_ack: %w", err)
	}
	var ackEnv pb.Envelope
	if err := json.Unmarshal(first.Value, &ackEnv); err != nil || ackEnv.Kind != pb.KindConnectionAck {
		return fmt.Errorf("expected connection_ack, got kind %q (decode err %v)", ackEnv.Kind, err)
	}
	var ack pb.ConnectionAck
	if err := ackEnv.Unmarshal(&ack); err != nil {
		return fmt.Errorf("decode connection_ack: %w", err)
	}

	guard := NewNonceGuard(signer, verifier, link.NetworkID, localNonce, ack.Nonce)
	sink := d.sinks.UpdateSink(link.NetworkID)
	heartbeats := d.sinks.HeartbeatSink(link.NetworkID)
	protocol := NewProtocol(guard, sink, heartbeats, link.DestNodeID, link.NetworkID, d.metrics)

	raw := NewRawConnection(protocol, link.NetworkID, link.DestNodeID, "local")
	conn := d.connections.AddConnection(link.DestNodeID, localNodeID, link.NetworkID)
	conn.AddRawConnection(raw)
	defer conn.RemoveRawConnection(raw)

	slog.Info("established transport stream", "node_id", link.DestNodeID, "network_id", link.NetworkID, "address", address)

	errCh := make(chan error, 1)
	go func() {
		for {
			frame, err := stream.Recv()
			if err != nil {
				errCh <- err
				return
			}
			var inner pb.Envelope
			if err := json.Unmarshal(frame.Value, &inner); err != nil {
				slog.Warn("dropping frame with invalid envelope", "node_id", link.DestNodeID, "error", err)
				continue
			}
			raw.HandleRequest(&inner)
		}
	}()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		env := raw.GetResponse()
		if env == nil {
			return nil
		}
		if err := sendClientEnvelope(stream, env); err != nil {
			return err
		}
	}
}

func sendClientEnvelope(stream *ClientStream, env *pb.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return stream.Send(&wrapperspb.BytesValue{Value: raw})
}
