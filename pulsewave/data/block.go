package data

import (
	"encoding/json"
	"fmt"
	"time"
)

// Block is the atomic signed unit of the store: data + date + id +
// replacement policy + signature (spec §3 "SignedBlock").
//
// The signature covers {date, data, block_id, replacement_type, secret?}
// in canonical JSON; secret is an out-of-band value bound only to
// certain blocks (the leader entry's inner block, spec §3
// "ConsistentContext").
type Block struct {
	Data            json.RawMessage `json:"data"`
	Date            time.Time       `json:"date"`
	BlockID         string          `json:"block_id"`
	ReplacementType ReplacementType `json:"replacement_type"`
	Signature       []byte          `json:"signature"`
}

// NewBlock signs payload and wraps it in a Block. secret, when
// non-empty, is bound into the signature but never stored on the Block
// itself — it is supplied again at Verify time by anyone who should be
// able to check it (spec §3).
func NewBlock(s signer, payload any, blockID string, repType ReplacementType, secret string) (*Block, error) {
	dataRaw, err := canonicalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize block payload: %w", err)
	}
	date := time.Now().UTC()
	sig, err := signBlock(s, dataRaw, date, blockID, repType, secret)
	if err != nil {
		return nil, err
	}
	return &Block{
		Data:            dataRaw,
		Date:            date,
		BlockID:         blockID,
		ReplacementType: repType,
		Signature:       sig,
	}, nil
}

func signBlock(s signer, dataRaw json.RawMessage, date time.Time, blockID string, repType ReplacementType, secret string) ([]byte, error) {
	payload := blockSignaturePayload(dataRaw, date, blockID, repType, secret)
	canon, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal block signature payload: %w", err)
	}
	return s.Sign(canon), nil
}

func blockSignaturePayload(dataRaw json.RawMessage, date time.Time, blockID string, repType ReplacementType, secret string) map[string]any {
	payload := map[string]any{
		"date":             formatTime(date),
		"data":             dataRaw,
		"block_id":         blockID,
		"replacement_type": string(repType),
	}
	if secret != "" {
		payload["secret"] = secret
	} else {
		payload["secret"] = nil
	}
	return payload
}

// Verify checks the block's signature under verifier, and that its
// block_id matches the expected one for the slot it occupies. path is
// diagnostic only (spec §4.1).
func (b *Block) Verify(v verifier, blockID string, path string, secret string) bool {
	if b == nil {
		return false
	}
	if b.BlockID != blockID {
		return false
	}
	payload := blockSignaturePayload(b.Data, b.Date, b.BlockID, b.ReplacementType, secret)
	canon, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return v.Verify(canon, b.Signature, path)
}

// replaces reports whether incoming should replace current under
// incoming's replacement policy (spec §3 replacement policy).
// The two block_ids must match; callers are expected to have checked
// that already.
func replaces(current, incoming *Block) bool {
	if current == nil {
		return true
	}
	switch incoming.ReplacementType {
	case Older:
		return incoming.Date.Before(current.Date)
	default: // Newer
		return incoming.Date.After(current.Date)
	}
}

// winner returns whichever of a, b would be "ahead" under the block's
// own replacement ordering — the value a receiver ends up holding after
// both have been merged in either order. Used by diff (spec §4.1) to
// compute the element-wise maximum over monotone fields.
func winner(a, b *Block) *Block {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if replaces(a, b) {
		return b
	}
	return a
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Data = append(json.RawMessage(nil), b.Data...)
	clone.Signature = append([]byte(nil), b.Signature...)
	return &clone
}

// Unmarshal decodes the block's opaque payload into out (spec §9: block
// contents are opaque at the storage layer; callers parse at the view
// layer).
func (b *Block) Unmarshal(out any) error {
	return json.Unmarshal(b.Data, out)
}
