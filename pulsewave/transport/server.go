package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/errs"
	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/transport/pb"
)

// NodeConfigSource resolves the local node id and peer verifier for one
// network, standing in for grpc_server.py's NetworkConfigLoader lookups
// (config.networks[network_id].node_id / key_mapping.get_verifier).
type NodeConfigSource interface {
	LocalNodeID(networkID string) (string, bool)
	Signer(networkID string) (*crypto.Signer, bool)
	Verifier(networkID, nodeID string) (*crypto.Verifier, bool)
}

// SinkFactory builds the update/heartbeat sinks for one network,
// standing in for grpc_server.py's GrpcUpdateHandlerContainer.get_handler.
type SinkFactory interface {
	UpdateSink(networkID string) UpdateSink
	HeartbeatSink(networkID string) HeartbeatSink
}

// Server accepts Transport streams, runs the ConnectionInit/Ack
// handshake, and hands established connections to a ConnectionManager.
// Grounded on grpc_server.py's MeshMonServicer.StreamUpdates.
type Server struct {
	config      NodeConfigSource
	sinks       SinkFactory
	connections *ConnectionManager
	metrics     *metrics.Recorder
}

func NewServer(config NodeConfigSource, sinks SinkFactory, connections *ConnectionManager) *Server {
	return &Server{config: config, sinks: sinks, connections: connections}
}

// WithMetrics attaches a metrics.Recorder that observes frames
// received on every accepted connection. Passing nil (the default)
// disables metrics.
func (s *Server) WithMetrics(recorder *metrics.Recorder) *Server {
	s.metrics = recorder
	return s
}

func (s *Server) Stream(stream *ServerStream) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	var env pb.Envelope
	if err := json.Unmarshal(first.Value, &env); err != nil {
		return s.reject(stream, "INVALID_INITIAL_PACKET", "first frame must decode as an envelope")
	}
	if env.Kind != pb.KindConnectionInit {
		return s.reject(stream, "INVALID_INITIAL_PACKET", "first packet must be connection_init")
	}
	var init pb.ConnectionInit
	if err := env.Unmarshal(&init); err != nil {
		return s.reject(stream, "INVALID_INITIAL_PACKET", "malformed connection_init")
	}

	localNodeID, ok := s.config.LocalNodeID(init.NetworkID)
	if !ok {
		return s.reject(stream, "UNKNOWN_NETWORK", fmt.Sprintf("unknown network %q", init.NetworkID))
	}
	signer, ok := s.config.Signer(init.NetworkID)
	if !ok {
		return s.reject(stream, "UNKNOWN_NETWORK", "no signer for network")
	}
	verifier, ok := s.config.Verifier(init.NetworkID, init.NodeID)
	if !ok {
		return s.reject(stream, "UNKNOWN_PEER", fmt.Sprintf("unrecognised peer %q", init.NodeID))
	}

	localNonce := uuid.NewString()
	ackEnv, err := pb.Marshal(pb.KindConnectionAck, pb.ConnectionAck{Message: "Connection established", Nonce: localNonce})
	if err != nil {
		return err
	}
	if err := sendEnvelope(stream, ackEnv); err != nil {
		return err
	}

	guard := NewNonceGuard(signer, verifier, init.NetworkID, localNonce, init.Nonce)
	sink := s.sinks.UpdateSink(init.NetworkID)
	heartbeats := s.sinks.HeartbeatSink(init.NetworkID)
	protocol := NewProtocol(guard, sink, heartbeats, init.NodeID, init.NetworkID, s.metrics)

	raw := NewRawConnection(protocol, init.NetworkID, init.NodeID, "remote")
	conn := s.connections.AddConnection(init.NodeID, localNodeID, init.NetworkID)
	conn.AddRawConnection(raw)
	defer conn.RemoveRawConnection(raw)

	slog.Info("accepted transport stream", "server_node_id", localNodeID, "client_node_id", init.NodeID, "network_id", init.NetworkID)

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
				slog.Warn("dropping frame with invalid envelope", "node_id", init.NodeID, "error", err)
				continue
			}
			raw.HandleRequest(&inner)
		}
	}()

	for {
		select {
		case err := <-errCh:
			return err
		default:
		}
		env := raw.GetResponse()
		if env == nil {
			return nil
		}
		if err := sendEnvelope(stream, env); err != nil {
			return err
		}
	}
}

func (s *Server) reject(stream *ServerStream, code, message string) error {
	env, err := pb.Marshal(pb.KindError, pb.Error{Code: code, Message: message})
	if err != nil {
		return err
	}
	slog.Warn("rejecting transport stream", "code", code, "message", message)
	if sendErr := sendEnvelope(stream, env); sendErr != nil {
		return sendErr
	}
	return fmt.Errorf("%w: %s: %s", errs.StreamInitInvalid, code, message)
}

func sendEnvelope(stream *ServerStream, env *pb.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return stream.Send(&wrapperspb.BytesValue{Value: raw})
}
