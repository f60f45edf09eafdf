package crypto

import "sync"

// KeyMapping binds a node's own signer to the set of verifiers it holds
// for its peers. Store-level merges consult it to reject partitions from
// node IDs it does not recognise (spec §3, "nodes absent from the key
// mapping are silently dropped").
type KeyMapping struct {
	Signer *Signer

	mu        sync.RWMutex
	verifiers map[string]*Verifier
}

// NewKeyMapping creates a KeyMapping for signer with no peers yet.
func NewKeyMapping(signer *Signer) *KeyMapping {
	return &KeyMapping{
		Signer:    signer,
		verifiers: make(map[string]*Verifier),
	}
}

// AddVerifier registers (or replaces) the verifier for a peer node ID.
func (k *KeyMapping) AddVerifier(nodeID string, verifier *Verifier) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.verifiers[nodeID] = verifier
}

// RemoveVerifier drops a peer, e.g. on config reload removing a node.
func (k *KeyMapping) RemoveVerifier(nodeID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.verifiers, nodeID)
}

// Verifier returns the verifier for nodeID, including self.
func (k *KeyMapping) Verifier(nodeID string) (*Verifier, bool) {
	if nodeID == k.Signer.NodeID {
		return k.Signer.Verifier(), true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.verifiers[nodeID]
	return v, ok
}

// Nodes returns every node ID known to the mapping, self included.
func (k *KeyMapping) Nodes() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	nodes := make([]string, 0, len(k.verifiers)+1)
	nodes = append(nodes, k.Signer.NodeID)
	for id := range k.verifiers {
		nodes = append(nodes, id)
	}
	return nodes
}
