// Package metrics provides the OTel metrics instruments this
// replica's transport and consensus layers increment: the in-scope
// half of spec.md §7's "Prometheus counters expose packet and
// connection failure rates". A metric.Meter is the vendor-neutral
// producer this package writes to; wiring a Prometheus exporter that
// scrapes it is the named external collaborator spec.md §1 places out
// of scope. Grounded on the teacher's cmd/main.go OTel bootstrap
// (tracer provider setup), generalized here to metrics instruments.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder wraps the counters this repo's transport and consensus
// layers increment. A nil *Recorder is valid and every method on it is
// a no-op, so callers that don't care about metrics (most tests) can
// simply never construct one.
type Recorder struct {
	packetsSent        metric.Int64Counter
	packetsReceived    metric.Int64Counter
	connectionFailures metric.Int64Counter
	leaderTransitions  metric.Int64Counter
}

// New builds a Recorder backed by meter. Pass otel.Meter("pulsewave")
// for a real pipeline, or leave the *Recorder nil to disable metrics
// entirely.
func New(meter metric.Meter) (*Recorder, error) {
	packetsSent, err := meter.Int64Counter(
		"pulsewave.transport.packets_sent",
		metric.WithDescription("transport frames sent to peers"),
	)
	if err != nil {
		return nil, fmt.Errorf("create packets_sent counter: %w", err)
	}
	packetsReceived, err := meter.Int64Counter(
		"pulsewave.transport.packets_received",
		metric.WithDescription("transport frames received from peers"),
	)
	if err != nil {
		return nil, fmt.Errorf("create packets_received counter: %w", err)
	}
	connectionFailures, err := meter.Int64Counter(
		"pulsewave.transport.connection_failures",
		metric.WithDescription("failed dial or stream-handshake attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("create connection_failures counter: %w", err)
	}
	leaderTransitions, err := meter.Int64Counter(
		"pulsewave.consensus.leader_transitions",
		metric.WithDescription("leader election transitions per consistent context"),
	)
	if err != nil {
		return nil, fmt.Errorf("create leader_transitions counter: %w", err)
	}

	return &Recorder{
		packetsSent:        packetsSent,
		packetsReceived:    packetsReceived,
		connectionFailures: connectionFailures,
		leaderTransitions:  leaderTransitions,
	}, nil
}

// PacketSent records one transport frame of kind sent on networkID.
func (r *Recorder) PacketSent(ctx context.Context, networkID, kind string) {
	if r == nil {
		return
	}
	r.packetsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("network_id", networkID),
		attribute.String("kind", kind),
	))
}

// PacketReceived records one transport frame of kind received on
// networkID.
func (r *Recorder) PacketReceived(ctx context.Context, networkID, kind string) {
	if r == nil {
		return
	}
	r.packetsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("network_id", networkID),
		attribute.String("kind", kind),
	))
}

// ConnectionFailed records a dial or handshake failure against a peer.
func (r *Recorder) ConnectionFailed(ctx context.Context, networkID, peerNodeID string) {
	if r == nil {
		return
	}
	r.connectionFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("network_id", networkID),
		attribute.String("peer_node_id", peerNodeID),
	))
}

// LeaderTransition records a leader election status change for a named
// consistent context.
func (r *Recorder) LeaderTransition(ctx context.Context, clusterName, status string) {
	if r == nil {
		return
	}
	r.leaderTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cluster", clusterName),
		attribute.String("status", status),
	))
}
