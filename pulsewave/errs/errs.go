// Package errs enumerates the error taxonomy spec.md §7 names for the
// signature/replay/consistency failures a replica can hit while
// verifying data from a peer. Call sites wrap one of these sentinels
// with fmt.Errorf("%w", ...) for context, the way the source's
// EventLog categorizes failures by kind (event_log.EventType) without
// losing the underlying category to a free-form string.
package errs

import "errors"

var (
	// SignatureInvalid means a block's signature did not verify under
	// the claimed signer's public key.
	SignatureInvalid = errors.New("pulsewave: signature invalid")

	// KeyUnknown means a block claimed an identity this node has no
	// verifier for.
	KeyUnknown = errors.New("pulsewave: unknown signing key")

	// ContextNameMismatch means a signed context's declared name did
	// not match the path it was found at.
	ContextNameMismatch = errors.New("pulsewave: context name mismatch")

	// BlockIdMismatch means a signed block's declared id did not match
	// the key it was stored under.
	BlockIdMismatch = errors.New("pulsewave: block id mismatch")

	// StaleReplacement means an incoming block lost the replacement
	// policy comparison against the block already stored (spec.md §3:
	// Newer/Older winner rules).
	StaleReplacement = errors.New("pulsewave: stale replacement")

	// ValidatorReplay means a transport frame's validator block did not
	// carry a strictly newer date than the connection's watermark.
	ValidatorReplay = errors.New("pulsewave: validator replay detected")

	// ValidatorMismatch means a transport frame's validator payload did
	// not carry the nonce pair expected for that connection.
	ValidatorMismatch = errors.New("pulsewave: validator nonce mismatch")

	// StreamInitInvalid means the first frame on a new transport stream
	// was not a well-formed ConnectionInit/ConnectionAck.
	StreamInitInvalid = errors.New("pulsewave: invalid stream handshake")

	// PeerUnreachable means a dial or send to a known peer failed.
	PeerUnreachable = errors.New("pulsewave: peer unreachable")

	// ConfigInvalid means a loaded network or node configuration failed
	// validation.
	ConfigInvalid = errors.New("pulsewave: invalid configuration")
)
