package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
	"github.com/rippleFCL/meshmon/pulsewave/data"
	"github.com/rippleFCL/meshmon/pulsewave/errs"
	"github.com/rippleFCL/meshmon/pulsewave/transport/pb"
)

// nonceValidator is the signed value bound to every frame exchanged on
// one connection: a pair of nonces exchanged during the handshake plus
// the network/node identity. Grounded on
// original_source/src/meshmon/connection/grpc_types.py's Validator and
// protocol_handler.py's PulseWaveProtocol, which signs one of these per
// outgoing frame and checks it against the expected nonce pair and a
// monotonically increasing date watermark on every incoming frame, to
// reject both forged and replayed frames.
type nonceValidator struct {
	LocalNonce  string `json:"local_nonce"`
	RemoteNonce string `json:"remote_nonce"`
	NetworkID   string `json:"network_id"`
	NodeID      string `json:"node_id"`
}

// NonceGuard signs outgoing frames with the local node's half of the
// handshake nonce pair and rejects incoming frames that don't carry the
// matching peer nonce, a valid signature, or a strictly newer date than
// the last accepted frame (replay protection).
type NonceGuard struct {
	signer   *crypto.Signer
	verifier *crypto.Verifier

	send nonceValidator
	recv nonceValidator

	lastAccepted time.Time
}

// NewNonceGuard builds a guard for one connection. localNonce is this
// node's freshly generated nonce; remoteNonce is the peer's, learned
// during the handshake (the dialer generates and sends its own nonce in
// ConnectionInit; the acceptor generates its own and sends it back in
// ConnectionAck).
func NewNonceGuard(signer *crypto.Signer, verifier *crypto.Verifier, networkID, localNonce, remoteNonce string) *NonceGuard {
	return &NonceGuard{
		signer:   signer,
		verifier: verifier,
		send: nonceValidator{
			LocalNonce:  localNonce,
			RemoteNonce: remoteNonce,
			NetworkID:   networkID,
			NodeID:      signer.NodeID,
		},
		recv: nonceValidator{
			LocalNonce:  remoteNonce,
			RemoteNonce: localNonce,
			NetworkID:   networkID,
			NodeID:      verifier.NodeID,
		},
	}
}

// Seal signs and wraps payload as an Envelope of kind k, attaching this
// connection's outgoing nonce binding.
func (g *NonceGuard) Seal(k pb.Kind, payload any) (*pb.Envelope, error) {
	env, err := pb.Marshal(k, payload)
	if err != nil {
		return nil, err
	}
	block, err := data.NewBlock(g.signer, g.send, "validator", data.Newer, "")
	if err != nil {
		return nil, fmt.Errorf("sign validator block: %w", err)
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return nil, err
	}
	env.Validator = raw
	return env, nil
}

// Open verifies env's validator block against the expected nonce pair,
// the peer's signature, and the replay watermark, then decodes its
// payload into out. It returns an error describing why a frame was
// rejected; pulseWaveProtocol.HandlePacket logs and drops such a frame
// and leaves the connection open, whatever the reason.
func (g *NonceGuard) Open(env *pb.Envelope, out any) error {
	var block data.Block
	if err := json.Unmarshal(env.Validator, &block); err != nil {
		return fmt.Errorf("decode validator block: %w", err)
	}
	if !block.Date.After(g.lastAccepted) {
		return fmt.Errorf("%w: date %s not after watermark %s", errs.ValidatorReplay, block.Date, g.lastAccepted)
	}

	var nonce nonceValidator
	if err := block.Unmarshal(&nonce); err != nil {
		return fmt.Errorf("decode validator payload: %w", err)
	}
	if nonce != g.recv {
		return fmt.Errorf("%w: got %+v want %+v", errs.ValidatorMismatch, nonce, g.recv)
	}
	if !block.Verify(g.verifier, "validator", "validator", "") {
		return fmt.Errorf("%w: validator block", errs.SignatureInvalid)
	}
	g.lastAccepted = block.Date

	if env.Data != nil && out != nil {
		if err := env.Unmarshal(out); err != nil {
			return fmt.Errorf("decode envelope payload: %w", err)
		}
	}
	return nil
}
