package data

import (
	"testing"

	"github.com/rippleFCL/meshmon/pulsewave/crypto"
)

func mustSigner(t *testing.T, nodeID string) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateSigner(nodeID)
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	return s
}

func TestBlockVerifyRejectsWrongBlockID(t *testing.T) {
	s := mustSigner(t, "a")
	b, err := NewBlock(s, map[string]int{"x": 1}, "value-a", Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	if !b.Verify(s.Verifier(), "value-a", "path", "") {
		t.Fatal("expected block to verify")
	}
	if b.Verify(s.Verifier(), "value-b", "path", "") {
		t.Fatal("expected verify to fail for mismatched block id")
	}
}

func TestBlockReplacementPolicy(t *testing.T) {
	s := mustSigner(t, "a")
	older, err := NewBlock(s, 1, "k", Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	newer, err := NewBlock(s, 2, "k", Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	newer.Date = older.Date.Add(1)

	if !replaces(older, newer) {
		t.Fatal("expected NEWER policy to prefer later date")
	}
	if replaces(newer, older) {
		t.Fatal("expected NEWER policy to reject earlier date replacing later")
	}

	olderPolicy, err := NewBlock(s, 1, "k", Older, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	newerPolicy, err := NewBlock(s, 2, "k", Older, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	newerPolicy.Date = olderPolicy.Date.Add(1)

	if replaces(olderPolicy, newerPolicy) {
		t.Fatal("expected OLDER policy to reject later date replacing earlier")
	}
	if !replaces(newerPolicy, olderPolicy) {
		t.Fatal("expected OLDER policy to prefer earlier date")
	}
}

func TestContextSetDeleteResign(t *testing.T) {
	s := mustSigner(t, "a")
	ctx, err := NewContext(s, "demo")
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	firstDate := ctx.Date

	if _, err := ctx.Set(s, "k1", "v1", Newer); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !ctx.Date.After(firstDate) {
		t.Fatal("expected header date to advance after widening allowed keys")
	}
	if !ctx.Verify(s.Verifier(), "demo", "path") {
		t.Fatal("expected context to verify after set")
	}

	if err := ctx.Delete(s, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := ctx.Get("k1"); ok {
		t.Fatal("expected key to be gone after delete")
	}
	if !ctx.Verify(s.Verifier(), "demo", "path") {
		t.Fatal("expected context to verify after delete")
	}
}

func TestContextUpdateMergesEntries(t *testing.T) {
	s := mustSigner(t, "a")
	a, _ := NewContext(s, "ctx")
	b, _ := NewContext(s, "ctx")

	if _, err := b.Set(s, "k1", "hello", Newer); err != nil {
		t.Fatalf("Set: %v", err)
	}

	a.Update("ctx", b, s.Verifier(), "ctx")

	block, ok := a.Get("k1")
	if !ok {
		t.Fatal("expected k1 to be merged into a")
	}
	var got string
	if err := block.Unmarshal(&got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestContextDiffRoundTrip(t *testing.T) {
	s := mustSigner(t, "a")
	a, _ := NewContext(s, "ctx")
	b, _ := NewContext(s, "ctx")
	if _, err := b.Set(s, "k1", "v1", Newer); err != nil {
		t.Fatalf("Set: %v", err)
	}

	d := a.Diff(b)
	if d == nil {
		t.Fatal("expected non-nil diff")
	}

	direct := a.Clone()
	direct.Update("ctx", b, s.Verifier(), "ctx")

	viaDiff := a.Clone()
	viaDiff.Update("ctx", d, s.Verifier(), "ctx")

	if _, ok := viaDiff.Get("k1"); !ok {
		t.Fatal("expected diff-applied context to contain k1")
	}
	if _, ok := direct.Get("k1"); !ok {
		t.Fatal("expected directly-updated context to contain k1")
	}
}

// TestContextDiffIncludesReceiverWinningKey exercises the branch where
// a key is present on both sides and the *receiver* holds the winning
// (newer) block. Diff must still surface that key, regardless of which
// side calls Diff, matching the round-trip law
// diff(c, other).apply(older) == newer (spec §4.1/§8).
func TestContextDiffIncludesReceiverWinningKey(t *testing.T) {
	s := mustSigner(t, "a")

	older, err := NewContext(s, "ctx")
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if _, err := older.Set(s, "k", "v-old", Newer); err != nil {
		t.Fatalf("Set: %v", err)
	}

	newer := older.Clone()
	newerBlock, err := NewBlock(s, "v-new", "k", Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	newerBlock.Date = older.Data["k"].Date.Add(1)
	newerBlock.Signature, err = signBlock(s, newerBlock.Data, newerBlock.Date, "k", Newer, "")
	if err != nil {
		t.Fatalf("signBlock: %v", err)
	}
	newer.Data["k"] = newerBlock

	// newer is the receiver and holds the winning block for "k".
	d := newer.Diff(older)
	if d == nil {
		t.Fatal("expected non-nil diff")
	}
	if _, ok := d.Data["k"]; !ok {
		t.Fatal("expected diff to include key k even though the receiver holds the winning value")
	}

	applied := older.Clone()
	applied.Update("ctx", d, s.Verifier(), "ctx")
	block, ok := applied.Get("k")
	if !ok {
		t.Fatal("expected applied diff to contain k")
	}
	var got string
	if err := block.Unmarshal(&got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != "v-new" {
		t.Fatalf("expected older+diff to equal newer's value %q, got %q", "v-new", got)
	}

	// The reverse call order (older.Diff(newer)) must produce an
	// equivalent diff, since Diff's result should not depend on which
	// side is the receiver.
	reverse := older.Diff(newer)
	if reverse == nil {
		t.Fatal("expected non-nil diff from the reverse call order")
	}
	if _, ok := reverse.Data["k"]; !ok {
		t.Fatal("expected reverse diff to also include key k")
	}
}

func TestConsistentContextLeaderClaimRoundTrip(t *testing.T) {
	s := mustSigner(t, "a")
	cc, err := NewConsistentContext(s, "cluster", "sekrit")
	if err != nil {
		t.Fatalf("NewConsistentContext: %v", err)
	}
	if err := cc.SetLeaderClaim(s, LeaderStatusLeader, "a", "sekrit"); err != nil {
		t.Fatalf("SetLeaderClaim: %v", err)
	}

	entry, ok := cc.LeaderClaim(s.Verifier(), "path", "sekrit")
	if !ok {
		t.Fatal("expected leader claim to verify with correct secret")
	}
	if entry.Status != LeaderStatusLeader || entry.NodeID != "a" {
		t.Fatalf("unexpected leader entry: %+v", entry)
	}

	if _, ok := cc.LeaderClaim(s.Verifier(), "path", "wrong-secret"); ok {
		t.Fatal("expected leader claim to fail verification with wrong secret")
	}
}

func TestStoreUpdateSkipsUnknownNode(t *testing.T) {
	known := mustSigner(t, "known")
	unknown := mustSigner(t, "unknown")

	km := crypto.NewKeyMapping(known)

	incoming := NewStore()
	nd := NewNodeData()
	block, err := NewBlock(unknown, "v", "k", Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	nd.Values["k"] = block
	incoming.Nodes["unknown"] = nd

	store := NewStore()
	updated := store.Update(incoming, km)
	if len(updated) != 0 {
		t.Fatalf("expected no paths updated for unknown node, got %v", updated)
	}
	if _, ok := store.Nodes["unknown"]; ok {
		t.Fatal("expected unknown node to be skipped")
	}
}

func TestStoreDiffRoundTrip(t *testing.T) {
	s := mustSigner(t, "a")
	km := crypto.NewKeyMapping(s)

	a := NewStore()
	b := NewStore()

	nd := NewNodeData()
	block, err := NewBlock(s, "v1", "k1", Newer, "")
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	nd.Values["k1"] = block
	b.Nodes["a"] = nd

	diff := a.Diff(b)
	a.Update(diff, km)

	stored, ok := a.Nodes["a"]
	if !ok {
		t.Fatal("expected node a to be present after diff+update")
	}
	if _, ok := stored.Values["k1"]; !ok {
		t.Fatal("expected value k1 to be present after diff+update")
	}
}
