package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/transport/pb"
)

// UpdateSink receives decoded application payloads once a frame has
// passed nonce and signature verification. Grounded on
// original_source/src/meshmon/connection/update_handler.py's
// GrpcUpdateHandler, split here into the narrow interface the protocol
// layer needs so it does not depend on the store/update packages
// directly.
type UpdateSink interface {
	HandleIncomingUpdate(data json.RawMessage)
}

// HeartbeatSink receives the round-trip timestamp echoed back in a
// heartbeat ack, so a HeartbeatController can track per-peer liveness
// without the protocol layer depending on it directly.
type HeartbeatSink interface {
	HandleHeartbeatAck(peerNodeID string, nodeTimeNanos int64)
}

// pulseWaveProtocol builds and verifies frames for one RawConnection,
// grounded on protocol_handler.py's PulseWaveProtocol: sign every
// outgoing frame with the connection's nonce binding, reject inbound
// frames that fail the nonce/date/signature checks, then dispatch by
// kind.
type pulseWaveProtocol struct {
	guard      *NonceGuard
	sink       UpdateSink
	heartbeats HeartbeatSink
	peerNodeID string
	networkID  string
	metrics    *metrics.Recorder
}

// NewProtocol returns a Protocol bound to guard for signing/verifying
// frames on one connection, dispatching decoded store updates to sink
// and heartbeat acks to heartbeats. recorder may be nil to disable
// metrics.
func NewProtocol(guard *NonceGuard, sink UpdateSink, heartbeats HeartbeatSink, peerNodeID, networkID string, recorder *metrics.Recorder) Protocol {
	return &pulseWaveProtocol{guard: guard, sink: sink, heartbeats: heartbeats, peerNodeID: peerNodeID, networkID: networkID, metrics: recorder}
}

func (p *pulseWaveProtocol) BuildPacket(kind pb.Kind, payload any) (*pb.Envelope, error) {
	return p.guard.Seal(kind, payload)
}

func (p *pulseWaveProtocol) HandlePacket(env *pb.Envelope, conn *RawConnection) {
	p.metrics.PacketReceived(context.Background(), p.networkID, string(env.Kind))
	switch env.Kind {
	case pb.KindHeartbeat:
		var hb pb.Heartbeat
		if err := p.guard.Open(env, &hb); err != nil {
			slog.Warn("rejected heartbeat frame", "node_id", p.peerNodeID, "error", err)
			return
		}
		conn.SendResponse(pb.KindHeartbeatAck, pb.HeartbeatAck{NodeTimeNanos: hb.NodeTimeNanos})
	case pb.KindHeartbeatAck:
		var ack pb.HeartbeatAck
		if err := p.guard.Open(env, &ack); err != nil {
			slog.Warn("rejected heartbeat ack frame", "node_id", p.peerNodeID, "error", err)
			return
		}
		if p.heartbeats != nil {
			p.heartbeats.HandleHeartbeatAck(p.peerNodeID, ack.NodeTimeNanos)
		}
	case pb.KindStoreUpdate:
		var update pb.StoreUpdate
		if err := p.guard.Open(env, &update); err != nil {
			slog.Warn("rejected store update frame", "node_id", p.peerNodeID, "error", err)
			return
		}
		p.sink.HandleIncomingUpdate(update.Data)
	default:
		slog.Warn("unexpected frame kind on established connection", "node_id", p.peerNodeID, "kind", env.Kind)
	}
}
