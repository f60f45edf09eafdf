package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewBuildsCountersAgainstDefaultMeter(t *testing.T) {
	r, err := New(otel.Meter("pulsewave-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	r.PacketSent(ctx, "net-1", "heartbeat")
	r.PacketReceived(ctx, "net-1", "heartbeat_ack")
	r.ConnectionFailed(ctx, "net-1", "peer")
	r.LeaderTransition(ctx, "cluster-a", "leader")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	r.PacketSent(ctx, "net-1", "heartbeat")
	r.PacketReceived(ctx, "net-1", "heartbeat_ack")
	r.ConnectionFailed(ctx, "net-1", "peer")
	r.LeaderTransition(ctx, "cluster-a", "leader")
}
