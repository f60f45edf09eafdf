package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/errs"
	"github.com/rippleFCL/meshmon/pulsewave/transport/pb"
)

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	env, err := pb.Marshal(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 42})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var hb pb.Heartbeat
	if err := env.Unmarshal(&hb); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if hb.NodeTimeNanos != 42 {
		t.Fatalf("expected 42, got %d", hb.NodeTimeNanos)
	}
}

func newGuardPair(t *testing.T) (a, b *NonceGuard) {
	t.Helper()
	signerA, err := crypto.GenerateSigner("node-a")
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	signerB, err := crypto.GenerateSigner("node-b")
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}

	localNonce := "nonce-a"
	remoteNonce := "nonce-b"

	// a is the dialer: its send nonce pairs (local=a's nonce, remote=b's
	// nonce); b's recv nonce must mirror that exactly to accept a's frames.
	guardA := NewNonceGuard(signerA, signerB.Verifier(), "net-1", localNonce, remoteNonce)
	guardB := NewNonceGuard(signerB, signerA.Verifier(), "net-1", remoteNonce, localNonce)
	return guardA, guardB
}

func TestNonceGuardSealOpenRoundTrip(t *testing.T) {
	guardA, guardB := newGuardPair(t)

	env, err := guardA.Seal(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 7})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var hb pb.Heartbeat
	if err := guardB.Open(env, &hb); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if hb.NodeTimeNanos != 7 {
		t.Fatalf("expected 7, got %d", hb.NodeTimeNanos)
	}
}

func TestNonceGuardRejectsReplayedFrame(t *testing.T) {
	guardA, guardB := newGuardPair(t)

	env, err := guardA.Seal(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 1})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := guardB.Open(env, new(pb.Heartbeat)); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	err = guardB.Open(env, new(pb.Heartbeat))
	if err == nil {
		t.Fatal("expected replay of the same frame to be rejected")
	}
	if !errors.Is(err, errs.ValidatorReplay) {
		t.Fatalf("expected errs.ValidatorReplay, got %v", err)
	}
}

func TestNonceGuardRejectsNonceMismatch(t *testing.T) {
	_, guardB := newGuardPair(t)

	mallory, err := crypto.GenerateSigner("mallory")
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	// mallory signs with the right shape but a nonce pair that doesn't
	// match what guardB expects to receive.
	forged := NewNonceGuard(mallory, mallory.Verifier(), "net-1", "wrong-local", "wrong-remote")
	env, err := forged.Seal(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 1})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	err = guardB.Open(env, new(pb.Heartbeat))
	if err == nil {
		t.Fatal("expected nonce mismatch to be rejected")
	}
	if !errors.Is(err, errs.ValidatorMismatch) {
		t.Fatalf("expected errs.ValidatorMismatch, got %v", err)
	}
}

func TestNonceGuardRejectsForgedSignature(t *testing.T) {
	guardA, guardB := newGuardPair(t)

	env, err := guardA.Seal(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 1})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var block map[string]any
	if err := json.Unmarshal(env.Validator, &block); err != nil {
		t.Fatalf("unmarshal block: %v", err)
	}
	block["signature"] = []byte("not-a-real-signature")
	tampered, err := json.Marshal(block)
	if err != nil {
		t.Fatalf("marshal tampered block: %v", err)
	}
	env.Validator = tampered

	err = guardB.Open(env, new(pb.Heartbeat))
	if err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}
	if !errors.Is(err, errs.SignatureInvalid) {
		t.Fatalf("expected errs.SignatureInvalid, got %v", err)
	}
}

func TestConnectionRoundRobinsOverRawConnections(t *testing.T) {
	conn := NewConnection("peer", "local", "net-1")
	a := NewRawConnection(noopProtocol{}, "net-1", "peer", "local")
	b := NewRawConnection(noopProtocol{}, "net-1", "peer", "local")
	defer a.Close()
	defer b.Close()
	conn.AddRawConnection(a)
	conn.AddRawConnection(b)

	conn.SendResponse(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 1})
	conn.SendResponse(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 2})

	var gotA, gotB bool
	select {
	case <-a.writeCh:
		gotA = true
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-b.writeCh:
		gotB = true
	case <-time.After(50 * time.Millisecond):
	}
	if !gotA || !gotB {
		t.Fatalf("expected round robin to hit both raw connections, got a=%v b=%v", gotA, gotB)
	}
}

type noopProtocol struct{}

func (noopProtocol) BuildPacket(kind pb.Kind, payload any) (*pb.Envelope, error) {
	return pb.Marshal(kind, payload)
}
func (noopProtocol) HandlePacket(*pb.Envelope, *RawConnection) {}

func TestConnectionManagerReloadAddsAndRemoves(t *testing.T) {
	m := NewConnectionManager()
	m.AddConnection("stale-peer", "local", "net-1")

	m.Reload([]PeerLink{{DestNodeID: "fresh-peer", NetworkID: "net-1", SrcNodeID: "local"}})

	if _, ok := m.GetConnection("stale-peer", "net-1"); ok {
		t.Fatal("expected stale-peer connection to be removed")
	}
	if _, ok := m.GetConnection("fresh-peer", "net-1"); !ok {
		t.Fatal("expected fresh-peer connection to be added")
	}
}

func TestRawConnectionCloseStopsDispatch(t *testing.T) {
	raw := NewRawConnection(noopProtocol{}, "net-1", "peer", "local")
	raw.Close()
	if !raw.IsClosed() {
		t.Fatal("expected connection to report closed")
	}
	// Further sends/requests must not block or panic once closed.
	raw.SendResponse(pb.KindHeartbeat, pb.Heartbeat{NodeTimeNanos: 1})
	raw.HandleRequest(&pb.Envelope{Kind: pb.KindHeartbeat})
}

func TestHeartbeatControllerTracksAck(t *testing.T) {
	connections := NewConnectionManager()
	connections.AddConnection("peer", "local", "net-1")

	h := NewHeartbeatController(connections, time.Hour, 3)
	h.tick()

	sentAt := time.Now().Add(-10 * time.Millisecond)
	h.HandleHeartbeatAck("peer", sentAt.UnixNano())

	status, rtt := h.Status("peer", "net-1")
	if status != PingOK {
		t.Fatalf("expected PingOK after ack, got %v", status)
	}
	if rtt <= 0 {
		t.Fatalf("expected positive rtt, got %v", rtt)
	}
}
