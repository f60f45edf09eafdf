// Package data implements the signed, mergeable store algebra of
// PulseWave: SignedBlock, Context, ConsistentContext, Consistency,
// NodeData, and Store, each exposing Verify/Update/Diff/AllPaths
// (spec §4.1). It is a sealed set of concrete types rather than an open
// inheritance hierarchy, per the "recursive verify/merge dispatch"
// re-architecture note (spec §9).
package data

import (
	"encoding/json"
	"time"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
)

// ReplacementType governs whether a newer or older date wins a merge
// conflict for a given block_id (spec §3).
type ReplacementType string

const (
	Newer ReplacementType = "NEWER"
	Older ReplacementType = "OLDER"
)

// canonicalTimeLayout renders ISO-8601 UTC with an explicit numeric
// offset, matching spec §6's canonical form ("+00:00", not "Z").
const canonicalTimeLayout = "2006-01-02T15:04:05.000000000-07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

// canonicalJSON re-marshals v through an untyped round trip so that
// nested object keys come out sorted with no insignificant whitespace,
// the wire-level signature precondition of spec §6.
func canonicalJSON(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// verifier and signer are the minimal interfaces the data package needs
// from pulsewave/crypto, kept narrow so tests can fake them.
type verifier interface {
	Verify(data, sig []byte, path string) bool
}

type signer interface {
	Sign(data []byte) []byte
}

var (
	_ verifier = (*crypto.Verifier)(nil)
	_ signer   = (*crypto.Signer)(nil)
)
