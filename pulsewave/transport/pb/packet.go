// Package pb defines the application-level wire envelope carried inside
// each gRPC stream frame. The retrieval pack's protoc-generated
// meshmon_pb2/meshmon_pb2_grpc stubs (connection/proto/__init__.py) were
// not present in original_source, so this envelope is a hand-authored
// equivalent: a single Kind-tagged payload rather than the source's
// protobuf oneof (ProtocolData.{connection_init,connection_ack,error,
// heartbeat,heartbeat_ack,store_update}), carried at the transport layer
// inside google.golang.org/protobuf's pre-built wrapperspb.BytesValue so
// the real protobuf wire format and grpc streaming stack are exercised
// without needing a protoc run this repo cannot perform.
package pb

import "encoding/json"

// Kind identifies the payload carried by an Envelope, standing in for
// the source's ProtocolData oneof tag.
type Kind string

const (
	KindConnectionInit Kind = "connection_init"
	KindConnectionAck  Kind = "connection_ack"
	KindError          Kind = "error"
	KindHeartbeat      Kind = "heartbeat"
	KindHeartbeatAck   Kind = "heartbeat_ack"
	KindStoreUpdate    Kind = "store_update"
	KindValidator      Kind = "validator"
)

// Envelope is the JSON-encoded payload carried inside a gRPC frame.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data"`
	Validator json.RawMessage `json:"validator,omitempty"`
}

// ConnectionInit is the first frame a dialing node sends. Nonce is the
// dialer's half of the handshake's nonce pair (original_source's
// Validator.local_nonce/remote_nonce exchange has no surviving
// generation/handshake code in the retrieval pack, so the pairing
// itself — each side contributing one nonce during connection setup —
// is this repo's own design, grounded only on the Validator shape).
type ConnectionInit struct {
	NodeID    string `json:"node_id"`
	NetworkID string `json:"network_id"`
	Nonce     string `json:"nonce"`
}

// ConnectionAck is the first frame an accepting node sends back. Nonce
// is the acceptor's half of the nonce pair.
type ConnectionAck struct {
	Message string `json:"message"`
	Nonce   string `json:"nonce"`
}

// Error carries a protocol-level rejection reason.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Heartbeat is a liveness probe carrying the sender's local clock.
type Heartbeat struct {
	NodeTimeNanos int64 `json:"node_time_ns"`
}

// HeartbeatAck answers a Heartbeat, echoing its timestamp for RTT
// measurement by the prober.
type HeartbeatAck struct {
	NodeTimeNanos int64 `json:"node_time_ns"`
}

// StoreUpdate carries a signed Store (or Store diff) as opaque JSON; the
// receiver decodes it with pulsewave/data.
type StoreUpdate struct {
	Data json.RawMessage `json:"data"`
}

// Marshal encodes payload as the Data field of an Envelope of kind k.
func Marshal(k Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Kind: k, Data: raw}, nil
}

// Unmarshal decodes an Envelope's Data field into out.
func (e *Envelope) Unmarshal(out any) error {
	return json.Unmarshal(e.Data, out)
}
