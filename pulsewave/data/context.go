package data

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Context is a signed, ordered-irrelevant mapping from string key to
// Block, constrained by a signed set of allowed keys (spec §3
// "Context"). Methods are not internally synchronised; callers mutate
// and merge under the owning Store's single mutex (spec §5).
type Context struct {
	Name        string           `json:"context_name"`
	Date        time.Time        `json:"date"`
	AllowedKeys []string         `json:"allowed_keys"`
	Data        map[string]*Block `json:"data"`
	Signature   []byte           `json:"signature"`
}

// NewContext creates an empty, signed Context header for name.
func NewContext(s signer, name string) (*Context, error) {
	c := &Context{
		Name:        name,
		Date:        time.Now().UTC(),
		AllowedKeys: []string{},
		Data:        make(map[string]*Block),
	}
	sig, err := c.sign(s)
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

func (c *Context) headerPayload() map[string]any {
	return map[string]any{
		"context_name": c.Name,
		"date":         formatTime(c.Date),
		"allowed_keys": c.AllowedKeys,
	}
}

func (c *Context) sign(s signer) ([]byte, error) {
	canon, err := json.Marshal(c.headerPayload())
	if err != nil {
		return nil, fmt.Errorf("marshal context header payload: %w", err)
	}
	return s.Sign(canon), nil
}

// Resign re-signs the header after AllowedKeys changes, bumping Date so
// the new header wins over peers' stale copies on merge (spec §9: "a
// node may prune its own context by re-signing a narrower header").
func (c *Context) Resign(s signer) error {
	c.Date = time.Now().UTC()
	sig, err := c.sign(s)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

// Verify checks the header signature and that every entry's key is
// allowed and verifies under verifier (spec §4.1, invariant 2 in §8).
func (c *Context) Verify(v verifier, name string, path string) bool {
	if c.Name != name {
		return false
	}
	canon, err := json.Marshal(c.headerPayload())
	if err != nil {
		return false
	}
	ok := v.Verify(canon, c.Signature, path)
	for key, block := range c.Data {
		if !slices.Contains(c.AllowedKeys, key) {
			ok = false
			continue
		}
		if !block.Verify(v, key, fmt.Sprintf("%s.%s", path, key), "") {
			ok = false
		}
	}
	return ok
}

// Set writes key into the context, signing a new block for it and
// widening AllowedKeys (re-signing the header) if key was not already
// permitted (spec §9 resign-on-mutation).
func (c *Context) Set(s signer, key string, payload any, repType ReplacementType) ([]string, error) {
	block, err := NewBlock(s, payload, key, repType, "")
	if err != nil {
		return nil, err
	}
	c.Data[key] = block
	var touched []string
	if !slices.Contains(c.AllowedKeys, key) {
		c.AllowedKeys = append(c.AllowedKeys, key)
		if err := c.Resign(s); err != nil {
			return nil, err
		}
		touched = append(touched, "")
	}
	touched = append(touched, key)
	return touched, nil
}

// Delete removes key from the context and narrows AllowedKeys,
// re-signing the header.
func (c *Context) Delete(s signer, key string) error {
	if _, ok := c.Data[key]; !ok {
		return nil
	}
	delete(c.Data, key)
	if idx := slices.Index(c.AllowedKeys, key); idx >= 0 {
		c.AllowedKeys = slices.Delete(c.AllowedKeys, idx, idx+1)
		return c.Resign(s)
	}
	return nil
}

// Get returns the block stored for key, if present and allowed.
func (c *Context) Get(key string) (*Block, bool) {
	b, ok := c.Data[key]
	if !ok || !slices.Contains(c.AllowedKeys, key) {
		return nil, false
	}
	return b, true
}

// Update merges other into c in place, returning the list of paths
// whose value changed (spec §4.1 Context merge rules).
func (c *Context) Update(path string, other *Context, v verifier, name string) []string {
	if c.Name != name || other.Name != name {
		slog.Warn("context name mismatch", "self", c.Name, "other", other.Name, "path", path)
		return nil
	}

	var updated []string

	if other.Date.After(c.Date) {
		if !other.Verify(v, name, path) {
			slog.Warn("context header signature verification failed, skipping update", "name", c.Name, "path", path)
			return nil
		}
		oldAllowed := c.AllowedKeys
		c.Date = other.Date
		c.Signature = other.Signature
		c.AllowedKeys = other.AllowedKeys
		c.Name = other.Name
		if !slices.Equal(oldAllowed, c.AllowedKeys) {
			for key := range c.Data {
				if !slices.Contains(c.AllowedKeys, key) {
					delete(c.Data, key)
				}
			}
		}
		updated = append(updated, path)
	}

	for key, incoming := range other.Data {
		if !slices.Contains(c.AllowedKeys, key) {
			if _, exists := c.Data[key]; exists {
				delete(c.Data, key)
			}
			continue
		}
		current, exists := c.Data[key]
		if !exists {
			if incoming.Verify(v, key, fmt.Sprintf("%s.%s", path, key), "") {
				c.Data[key] = incoming
				updated = append(updated, fmt.Sprintf("%s.%s", path, key))
			}
			continue
		}
		if replaces(current, incoming) {
			if incoming.Verify(v, key, fmt.Sprintf("%s.%s", path, key), "") {
				c.Data[key] = incoming
				updated = append(updated, fmt.Sprintf("%s.%s", path, key))
			}
		}
	}
	return updated
}

// Diff returns a Context that, applied to the older of c and other,
// would make it equal to the newer (spec §4.1). Returns nil when there
// is no difference.
func (c *Context) Diff(other *Context) *Context {
	base := c
	if other.Date.After(c.Date) {
		base = other
	}
	out := &Context{
		Name:        base.Name,
		Date:        base.Date,
		AllowedKeys: base.AllowedKeys,
		Signature:   base.Signature,
		Data:        make(map[string]*Block),
	}

	keys := unionKeys(c.Data, other.Data)
	for _, key := range keys {
		cv, cok := c.Data[key]
		ov, ook := other.Data[key]
		switch {
		case cok && !ook:
			out.Data[key] = cv
		case !cok && ook:
			out.Data[key] = ov
		default:
			if !cv.Date.Equal(ov.Date) {
				out.Data[key] = winner(cv, ov)
			}
		}
	}

	if len(out.Data) == 0 && c.Date.Equal(other.Date) && slices.Equal(c.AllowedKeys, other.AllowedKeys) {
		return nil
	}
	return out
}

// AllPaths flattens every observable path under this context, used by
// the dispatch engine when a whole subtree is newly installed (spec §4.1).
func (c *Context) AllPaths(prefix string) []string {
	paths := make([]string, 0, len(c.Data))
	for key := range c.Data {
		paths = append(paths, fmt.Sprintf("%s.%s", prefix, key))
	}
	return paths
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	clone := &Context{
		Name:        c.Name,
		Date:        c.Date,
		AllowedKeys: append([]string(nil), c.AllowedKeys...),
		Signature:   append([]byte(nil), c.Signature...),
		Data:        make(map[string]*Block, len(c.Data)),
	}
	for k, v := range c.Data {
		clone.Data[k] = v.Clone()
	}
	return clone
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}
