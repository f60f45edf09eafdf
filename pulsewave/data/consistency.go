package data

import (
	"log/slog"
)

// Consistency holds the three well-known context tables used by clock
// sync and node status (spec §4.3, §4.4), the latest clock pulse, and
// the set of named consistent contexts a node participates in (spec
// §4.5 leader election).
type Consistency struct {
	ClockTable        *Context                       `json:"clock_table"`
	PulseTable        *Context                       `json:"pulse_table"`
	NodeStatusTable   *Context                       `json:"node_status_table"`
	ClockPulse        *Block                          `json:"clock_pulse,omitempty"`
	ConsistentContexts map[string]*ConsistentContext  `json:"consistent_contexts"`
}

// NewConsistency creates the three signed, empty tables for a fresh node.
func NewConsistency(s signer) (*Consistency, error) {
	clockTable, err := NewContext(s, "clock_table")
	if err != nil {
		return nil, err
	}
	nodeStatusTable, err := NewContext(s, "node_status_table")
	if err != nil {
		return nil, err
	}
	pulseTable, err := NewContext(s, "pulse_table")
	if err != nil {
		return nil, err
	}
	return &Consistency{
		ClockTable:         clockTable,
		PulseTable:         pulseTable,
		NodeStatusTable:    nodeStatusTable,
		ConsistentContexts: make(map[string]*ConsistentContext),
	}, nil
}

// Verify checks every table, the clock pulse if present, and every
// consistent context.
func (c *Consistency) Verify(v verifier, path string) bool {
	ok := c.ClockTable.Verify(v, "clock_table", path+".clock_table")
	if !c.NodeStatusTable.Verify(v, "node_status_table", path+".node_status_table") {
		ok = false
	}
	if !c.PulseTable.Verify(v, "pulse_table", path+".pulse_table") {
		ok = false
	}
	if c.ClockPulse != nil && !c.ClockPulse.Verify(v, c.ClockPulse.BlockID, path+".clock_pulse", "") {
		ok = false
	}
	for key, ctx := range c.ConsistentContexts {
		if !ctx.Verify(v, path+".consistent_contexts."+key) {
			ok = false
		}
	}
	return ok
}

// Update merges other into c in place, returning changed paths.
func (c *Consistency) Update(path string, other *Consistency, v verifier) []string {
	var updated []string
	updated = append(updated, c.ClockTable.Update(path+".clock_table", other.ClockTable, v, "clock_table")...)
	updated = append(updated, c.NodeStatusTable.Update(path+".node_status_table", other.NodeStatusTable, v, "node_status_table")...)
	updated = append(updated, c.PulseTable.Update(path+".pulse_table", other.PulseTable, v, "pulse_table")...)

	if other.ClockPulse != nil {
		if c.ClockPulse == nil || replaces(c.ClockPulse, other.ClockPulse) {
			if other.ClockPulse.Verify(v, other.ClockPulse.BlockID, path+".clock_pulse", "") {
				c.ClockPulse = other.ClockPulse
				updated = append(updated, path+".clock_pulse")
			}
		}
	}

	for key, incoming := range other.ConsistentContexts {
		current, exists := c.ConsistentContexts[key]
		if !exists {
			if incoming.Verify(v, path+".consistent_contexts."+key) {
				c.ConsistentContexts[key] = incoming
				updated = append(updated, path+".consistent_contexts."+key)
				updated = append(updated, incoming.AllPaths(path+".consistent_contexts."+key)...)
			} else {
				slog.Warn("consistent context verification failed for new key", "key", key, "path", path)
			}
			continue
		}
		updated = append(updated, current.Update(path+".consistent_contexts."+key, incoming, v, key)...)
	}
	return updated
}

// Diff returns a Consistency capturing what differs between c and
// other, or nil if there is nothing to send.
func (c *Consistency) Diff(other *Consistency) *Consistency {
	if other == nil {
		return c.Clone()
	}
	clockDiff := c.ClockTable.Diff(other.ClockTable)
	statusDiff := c.NodeStatusTable.Diff(other.NodeStatusTable)
	pulseDiff := c.PulseTable.Diff(other.PulseTable)

	out := &Consistency{
		ClockTable:         orDefault(clockDiff, c.ClockTable),
		NodeStatusTable:    orDefault(statusDiff, c.NodeStatusTable),
		PulseTable:         orDefault(pulseDiff, c.PulseTable),
		ClockPulse:         c.ClockPulse,
		ConsistentContexts: make(map[string]*ConsistentContext),
	}

	switch {
	case c.ClockPulse != nil && other.ClockPulse != nil:
		if other.ClockPulse.Date.After(c.ClockPulse.Date) {
			out.ClockPulse = other.ClockPulse
		}
	case other.ClockPulse != nil:
		out.ClockPulse = other.ClockPulse
	}

	sameTables := clockDiff == nil && statusDiff == nil && pulseDiff == nil && out.ClockPulse == c.ClockPulse

	for key := range unionMapKeys(c.ConsistentContexts, other.ConsistentContexts) {
		cv, cok := c.ConsistentContexts[key]
		ov, ook := other.ConsistentContexts[key]
		switch {
		case cok && !ook:
			out.ConsistentContexts[key] = cv
		case !cok && ook:
			out.ConsistentContexts[key] = ov
		default:
			if d := cv.Diff(ov); d != nil {
				out.ConsistentContexts[key] = d
			}
		}
	}

	if sameTables && len(out.ConsistentContexts) == 0 {
		return nil
	}
	return out
}

// AllPaths flattens every observable path under this consistency block.
func (c *Consistency) AllPaths(path string) []string {
	var paths []string
	paths = append(paths, c.ClockTable.AllPaths(path+".clock_table")...)
	paths = append(paths, c.NodeStatusTable.AllPaths(path+".node_status_table")...)
	paths = append(paths, c.PulseTable.AllPaths(path+".pulse_table")...)
	if c.ClockPulse != nil {
		paths = append(paths, path+".clock_pulse")
	}
	for key, ctx := range c.ConsistentContexts {
		paths = append(paths, path+".consistent_contexts."+key)
		paths = append(paths, ctx.AllPaths(path+".consistent_contexts."+key)...)
	}
	return paths
}

// Clone returns a deep copy.
func (c *Consistency) Clone() *Consistency {
	clone := &Consistency{
		ClockTable:         c.ClockTable.Clone(),
		PulseTable:         c.PulseTable.Clone(),
		NodeStatusTable:    c.NodeStatusTable.Clone(),
		ClockPulse:         c.ClockPulse.Clone(),
		ConsistentContexts: make(map[string]*ConsistentContext, len(c.ConsistentContexts)),
	}
	for k, v := range c.ConsistentContexts {
		clone.ConsistentContexts[k] = v.Clone()
	}
	return clone
}

func orDefault(v, fallback *Context) *Context {
	if v != nil {
		return v
	}
	return fallback
}

func unionMapKeys[V any](a, b map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
